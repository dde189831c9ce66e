package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rmaldonado/avachat/internal/adapters/auth/firebaseauth"
	memauth "github.com/rmaldonado/avachat/internal/adapters/auth/memory"
	firestorestore "github.com/rmaldonado/avachat/internal/adapters/storage/firestore"
	memstore "github.com/rmaldonado/avachat/internal/adapters/storage/memory"
	"github.com/rmaldonado/avachat/internal/app/chat"
	"github.com/rmaldonado/avachat/internal/app/identity"
	"github.com/rmaldonado/avachat/internal/app/session"
	"github.com/rmaldonado/avachat/internal/config"
	"github.com/rmaldonado/avachat/internal/domain"
	"github.com/rmaldonado/avachat/internal/observability"
)

// Smoke-runs the core against the configured backends: anonymous sign-in,
// profile bootstrap, one conversation with a couple of messages, read
// receipts, then teardown.
func main() {
	ctx := context.Background()
	cfg := config.Load()

	var (
		profiles      domain.ProfileStore
		conversations domain.ConversationStore
		messages      domain.MessageStore
	)

	switch cfg.StorageBackend {
	case "firestore":
		log.Printf("[STORE] Using Firestore storage (project=%s)", cfg.GCPProjectID)
		fsStore, err := firestorestore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			log.Fatalf("error initializing Firestore store: %v", err)
		}
		profiles = fsStore.Profiles()
		conversations = fsStore.Conversations()
		messages = fsStore.Messages()

	default:
		log.Println("[STORE] Using in-memory storage")
		profiles = memstore.NewProfileStore()
		conversations = memstore.NewConversationStore()
		messages = memstore.NewMessageStore()
	}

	var provider domain.AuthProvider
	switch cfg.AuthBackend {
	case "firebase":
		log.Println("[AUTH] Using Firebase auth provider")
		p, err := firebaseauth.NewProvider(ctx, firebaseauth.Config{
			ProjectID: cfg.GCPProjectID,
			WebAPIKey: cfg.WebAPIKey,
		})
		if err != nil {
			log.Fatalf("error initializing Firebase auth provider: %v", err)
		}
		provider = p

	default:
		log.Println("[AUTH] Using in-memory auth provider")
		provider = memauth.NewProvider()
	}

	sink := observability.NewLogSink()
	ids := identity.NewStore(provider, sink)
	defer ids.Close()

	// The demo never reauthenticates interactively.
	creds := domain.CredentialSourceFunc(func(ctx context.Context) (domain.Credential, error) {
		return domain.Credential{}, fmt.Errorf("interactive sign-in is not available in the demo")
	})
	linker := identity.NewLinker(provider, ids, creds, sink, cfg.FederatedProvider)

	orchestrator := session.NewOrchestrator(ids, profiles, sink, cfg.AppVersion)
	orchestrator.Start(ctx)
	defer orchestrator.Stop()

	sync := chat.NewSync(conversations, messages, sink)

	id, _, err := linker.SignInAnonymously(ctx)
	if err != nil {
		log.Fatalf("anonymous sign-in: %v", err)
	}
	log.Printf("signed in as %s", id.ID)

	conv, err := sync.GetOrCreateConversation(ctx, id.ID, "demo-avatar")
	if err != nil {
		log.Fatalf("get or create conversation: %v", err)
	}

	stream, stop, err := sync.StreamMessages(ctx, conv.ID)
	if err != nil {
		log.Fatalf("stream messages: %v", err)
	}
	defer stop()

	for i := 1; i <= 2; i++ {
		msg := &domain.Message{
			AuthorID:  id.ID,
			Content:   fmt.Sprintf("hello %d", i),
			CreatedAt: time.Now(),
		}
		if err := sync.AppendMessage(ctx, conv.ID, msg); err != nil {
			log.Fatalf("append message: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case msgs := <-stream:
			log.Printf("snapshot: %d message(s)", len(msgs))
			if len(msgs) >= 2 {
				if err := sync.MarkSeen(ctx, conv.ID, msgs[0].ID, "demo-avatar"); err != nil {
					log.Fatalf("mark seen: %v", err)
				}
				log.Println("demo complete")
				return
			}
		case <-deadline:
			log.Fatal("timed out waiting for message snapshots")
		}
	}
}

package domain

// Profile is the application-level user record, distinct from Identity.
// The canonical copy lives in the document store; local copies are caches
// that converge to the latest remote snapshot.
type Profile struct {
	UserID             UserID
	OnboardingComplete bool
	ProfileColor       string
	CreationAppVersion string
}

package domain

// DeletionReport records the outcome of one cascade-deletion run. It is an
// ephemeral value handed to the caller, never persisted.
type DeletionReport struct {
	ResourcesAttempted []string
	ResourcesSucceeded []string
	ResourcesFailed    []string
}

func (r *DeletionReport) Attempted(resource string) {
	r.ResourcesAttempted = append(r.ResourcesAttempted, resource)
}

func (r *DeletionReport) Succeeded(resource string) {
	r.ResourcesSucceeded = append(r.ResourcesSucceeded, resource)
}

func (r *DeletionReport) Failed(resource string) {
	r.ResourcesFailed = append(r.ResourcesFailed, resource)
}

// SucceededFor reports whether the named resource was deleted this run.
func (r *DeletionReport) SucceededFor(resource string) bool {
	for _, s := range r.ResourcesSucceeded {
		if s == resource {
			return true
		}
	}
	return false
}

package sdk

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/642studio/Veridis/internal/authz"
	"github.com/642studio/Veridis/internal/events"
	"github.com/642studio/Veridis/internal/hub"
)

// New initializes the hub based on the environment.
// It returns the Interface, so the app doesn't care if it's local or remote.
func New(storePath string, privilegedIDs []string) (Hub, error) {
	// 1. Check if a remote daemon is defined in the environment
	if remoteAddr := os.Getenv("VERIDIS_CORE_ADDR"); remoteAddr != "" {
		client, err := Connect(remoteAddr)
		if err == nil {
			return client, nil
		}
		// An unreachable daemon falls back to embedded mode.
	}

	// 2. Fallback to Embedded Mode
	// This uses the same components the daemon uses, but inside the app process.
	return NewEmbedded(storePath, privilegedIDs, zerolog.Nop())
}

// NewEmbedded builds an in-process hub and loads the authorization store.
func NewEmbedded(storePath string, privilegedIDs []string, log zerolog.Logger) (*hub.Hub, error) {
	store := events.NewStore(events.DefaultMaxEvents, events.WithLogger(log))
	svc := authz.NewService(authz.NewPersistence(storePath), privilegedIDs, authz.WithLogger(log))
	if err := svc.Load(); err != nil {
		return nil, err
	}
	return hub.New(store, svc, log), nil
}

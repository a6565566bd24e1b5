package main

import (
	"fmt"

	"go.mergers.dev/mergers/internal/config"
	"go.mergers.dev/mergers/internal/remote"
	"go.mergers.dev/mergers/internal/remote/azuredevops"
)

// newRemoteClient constructs the Azure DevOps client this CLI always
// runs against. A separate seam (rather than wiring azuredevops.New
// directly into every command) is kept only so the base URL derives
// consistently from cfg.Organization and the global --base-url flag.
func newRemoteClient(cfg *config.AppConfig, baseURL string) (remote.Client, error) {
	client, err := azuredevops.New(azuredevops.Options{
		BaseURL:      baseURL + "/" + cfg.Organization,
		Project:      cfg.Project,
		RepositoryID: cfg.Repository,
		Token:        cfg.PAT,
	})
	if err != nil {
		return nil, fmt.Errorf("construct azure devops client: %w", err)
	}
	return client, nil
}

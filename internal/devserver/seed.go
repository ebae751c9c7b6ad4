package devserver

import (
	"context"
	"fmt"

	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// SeedUser is a demo account together with the token that logs in as it.
type SeedUser struct {
	User  models.User
	Token string
}

// SeedUsers are the accounts created by Seed, one per role plus a second
// team member who is assigned tasks.
var SeedUsers = []SeedUser{
	{models.User{ID: "u-admin", Name: "Ada Admin", Role: models.RoleAdmin}, "admin-token"},
	{models.User{ID: "u-pm", Name: "Pat Manager", Role: models.RoleProjectManager}, "pm-token"},
	{models.User{ID: "u-lead", Name: "Lee Leader", Role: models.RoleTeamLeader}, "lead-token"},
	{models.User{ID: "u-dev", Name: "Dana Developer", Role: models.RoleTeamMember}, "dev-token"},
	{models.User{ID: "u-dev2", Name: "Sam Developer", Role: models.RoleTeamMember}, "dev2-token"},
	{models.User{ID: "u-guest", Name: "Gus Guest", Role: models.RoleGuest}, "guest-token"},
}

// Seed fills the store with a demo project whose tasks cover every state.
// It is idempotent.
func Seed(ctx context.Context, store *Store) error {
	for _, su := range SeedUsers {
		if err := store.PutUser(ctx, su.User, su.Token); err != nil {
			return fmt.Errorf("seeding: %w", err)
		}
	}
	if err := store.PutProject(ctx, "P-1", "Website relaunch", "u-pm"); err != nil {
		return fmt.Errorf("seeding: %w", err)
	}

	dev := &models.UserRef{ID: "u-dev"}
	tasks := []*models.Task{
		{ID: "T-1", Title: "Collect requirements", Description: "Interview **stakeholders** and list the must-haves.",
			State: models.StateBacklog, Priority: models.PriorityHigh, Assignee: dev},
		{ID: "T-2", Title: "Design landing page", Description: "Wireframes for desktop and mobile.",
			State: models.StateInAnalysis, Priority: models.PriorityMedium, Assignee: dev},
		{ID: "T-3", Title: "Implement login", Description: "OAuth flow with the identity provider.",
			State: models.StateInDevelopment, Priority: models.PriorityCritical, Assignee: dev},
		{ID: "T-4", Title: "Migrate blog posts", Description: "Waiting for the export from the old CMS.",
			State: models.StateBlocked, Priority: models.PriorityLow, Assignee: &models.UserRef{ID: "u-dev2"},
			TransitionReason: "CMS export not delivered yet"},
		{ID: "T-5", Title: "Set up analytics", Description: "Dropped in favour of the platform dashboard.",
			State: models.StateCancelled, Priority: models.PriorityLow,
			TransitionReason: "covered by the hosting platform"},
		{ID: "T-6", Title: "Buy domain", Description: "Done.",
			State: models.StateCompleted, Priority: models.PriorityMedium},
	}
	for _, t := range tasks {
		t.Project = models.ProjectRef{ID: "P-1"}
		if err := store.PutTask(ctx, t); err != nil {
			return fmt.Errorf("seeding: %w", err)
		}
	}
	return nil
}

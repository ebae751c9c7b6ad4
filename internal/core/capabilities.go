package core

import "github.com/valter-silva-au/tasktrack/pkg/models"

// ResolveCapabilities computes what p may do to t. It is a pure function of
// its inputs; callers must re-evaluate it whenever the principal, the task's
// assignee, or the project's manager changes.
//
// GUEST is granted edit, delete and state change while being denied comment
// and upload. That mirrors the tracker's current policy and is kept as-is
// pending product clarification.
func ResolveCapabilities(p models.Principal, t *models.Task) models.CapabilitySet {
	isAdmin := p.Role == models.RoleAdmin
	isGuest := p.Role == models.RoleGuest
	isManager := isProjectManager(p, t)
	isAssignee := p.ID != "" && p.ID == t.AssigneeID()

	return models.CapabilitySet{
		CanEditTask:         isAdmin || isManager || isGuest,
		CanDeleteTask:       isAdmin || isManager || isGuest,
		CanChangeState:      isAdmin || isManager || isGuest || isAssignee,
		CanComment:          !isGuest,
		CanUploadAttachment: !isGuest,
	}
}

// isProjectManager reports whether p manages the task's project. An empty
// principal ID never matches, so an unset manager reference grants nothing.
func isProjectManager(p models.Principal, t *models.Task) bool {
	return p.ID != "" && p.ID == t.ProjectManagerID()
}

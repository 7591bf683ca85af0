package reviewable

import (
	"reviewqueue/internal/guardian"
	"reviewqueue/internal/models"
)

// Well-known action ids.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Action describes something a reviewer may do to a reviewable.
type Action struct {
	ID    string `json:"id"`
	Icon  string `json:"icon,omitempty"`
	Title string `json:"title,omitempty"`
}

// ItemID implements Item.
func (a Action) ItemID() string { return a.ID }

var commonActions = map[string]Action{
	ActionApprove: {ID: ActionApprove, Icon: "thumbs-up", Title: "reviewables.actions.approve.title"},
	ActionReject:  {ID: ActionReject, Icon: "thumbs-down", Title: "reviewables.actions.reject.title"},
}

// CommonAction returns the shared descriptor for id, if there is one.
func CommonAction(id string) (Action, bool) {
	a, ok := commonActions[id]
	return a, ok
}

// Actions is the catalog of actions permitted for one reviewable and one
// guardian.
type Actions struct {
	Collection[Action]
	reviewable *models.Reviewable
	guardian   *guardian.Guardian
}

// NewActions returns an empty catalog bound to r and g.
func NewActions(r *models.Reviewable, g *guardian.Guardian) *Actions {
	return &Actions{reviewable: r, guardian: g}
}

// Add appends the common descriptor for id, or an ad-hoc action with no
// metadata when id is not a common action.
func (a *Actions) Add(id string) Action {
	action, ok := commonActions[id]
	if !ok {
		action = Action{ID: id}
	}
	a.Collection.Add(action)
	return action
}

// AddAction appends a fully described action.
func (a *Actions) AddAction(action Action) {
	a.Collection.Add(action)
}

func (a *Actions) Reviewable() *models.Reviewable { return a.reviewable }

func (a *Actions) Guardian() *guardian.Guardian { return a.guardian }

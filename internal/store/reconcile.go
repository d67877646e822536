package store

import "research-notes/internal/models"

// Action is the outcome of merging an incoming node into a forest.
type Action int

const (
	ActionNoop    Action = iota
	ActionInsert         // absent and active: restored from trash or newly visible
	ActionRemove         // present and deleted: moved to trash
	ActionReplace        // present and active: field update such as a rename
)

func (a Action) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionRemove:
		return "remove"
	case ActionReplace:
		return "replace"
	default:
		return "noop"
	}
}

// Reconcile decides how incoming changes the forest given the resident entry
// for the same id (nil when absent).
func Reconcile(current *models.Node, incoming models.Node) Action {
	present := current != nil
	deleted := incoming.Deleted()

	switch {
	case !present && !deleted:
		return ActionInsert
	case present && deleted:
		return ActionRemove
	case present && !deleted:
		return ActionReplace
	default:
		return ActionNoop
	}
}

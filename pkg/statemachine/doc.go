// Package statemachine provides typed, immutable transition tables for
// records whose state lives elsewhere, such as a database row.
//
// A Machine maps (state, event) pairs to target states and runs enter
// actions on a caller-supplied subject. It never stores a current state, so
// one package-level Machine can drive every record of a type:
//
//	var orders = statemachine.NewBuilder[Status, Event, *Order]().
//		Permit(Ship, Shipped, Paid).
//		Permit(Cancel, Cancelled, Pending, Paid).
//		OnEnter(Shipped, func(o *Order, _, _ Status) error {
//			o.ShippedAt = time.Now()
//			return nil
//		}).
//		MustBuild()
//
//	next, err := orders.Fire(order, order.Status, Ship)
//	if err != nil {
//		return err
//	}
//	order.Status = next
//
// Fire returns an *ErrNoTransitionAvailable when the event is not permitted
// from the given state; IsNoTransitionAvailableError detects it. Builder
// reports conflicting definitions, where one state and event lead to two
// different targets, through Build.
package statemachine

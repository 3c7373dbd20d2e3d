package core

import (
	"fmt"
	"math/big"

	"vestd/sale"
	"vestd/sale/referral"
	"vestd/sale/schedule"
)

// InitializeSchedule sets the tranche list exactly once.
func (n *Node) InitializeSchedule(ends []int64, buyerPools, referrerPools []*big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.sched.Initialize(ends, buyerPools, referrerPools); err != nil {
		return err
	}
	if err := n.st.SaveSchedule(n.sched.Tranches()); err != nil {
		n.sched = schedule.New(n.cfg.Start)
		return err
	}
	if err := n.persistMeta(); err != nil {
		n.sched = schedule.New(n.cfg.Start)
		return err
	}
	return nil
}

// AssignCode binds a referral code to an owner. Overwrite is the
// administrative escape hatch for reassigning taken codes.
func (n *Node) AssignCode(owner sale.Address, code string, overwrite bool) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.assignCodeLocked(owner, code, overwrite)
}

func (n *Node) assignCodeLocked(owner sale.Address, code string, overwrite bool) (string, error) {
	prior := n.refs.Codes()
	displaced, _ := n.refs.CodeOf(owner)
	assigned, err := n.refs.Assign(owner, code, overwrite)
	if err != nil {
		return "", err
	}
	if err := n.st.SaveCode(assigned, owner, displaced); err != nil {
		if restored, rerr := referral.Restore(prior, n.refs.Buybacks()); rerr == nil {
			n.refs = restored
		}
		return "", err
	}
	n.emit(sale.EventCodeAssigned, map[string]string{
		"account": owner.Hex(),
		"code":    assigned,
	})
	return assigned, nil
}

// CodeAssignment is one entry of a bulk code upload.
type CodeAssignment struct {
	Owner sale.Address
	Code  string
}

// BulkAssignCodes applies a batch of code assignments transactionally: the
// whole batch is staged on a trial mapping and persisted before the live
// mapping changes, so one conflicting entry or a persistence failure leaves
// every binding untouched.
func (n *Node) BulkAssignCodes(entries []CodeAssignment, overwrite bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(entries) == 0 {
		return sale.ErrEmptyBatch
	}
	trial, err := referral.Restore(n.refs.Codes(), nil)
	if err != nil {
		return err
	}
	assigned := make([]string, len(entries))
	for i, entry := range entries {
		code, err := trial.Assign(entry.Owner, entry.Code, overwrite)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %v", sale.ErrBatchEntryInvalid, i, err)
		}
		assigned[i] = code
	}
	if err := n.persistCodeTable(trial); err != nil {
		n.realignCodeTable()
		return err
	}
	next, err := referral.Restore(trial.Codes(), n.refs.Buybacks())
	if err != nil {
		return err
	}
	n.refs = next
	for i, entry := range entries {
		n.emit(sale.EventCodeAssigned, map[string]string{
			"account": entry.Owner.Hex(),
			"code":    assigned[i],
		})
	}
	return nil
}

// persistCodeTable writes the difference between the live code mapping and
// next to the store.
func (n *Node) persistCodeTable(next *referral.Ledger) error {
	current := make(map[string]sale.Address)
	for _, entry := range n.refs.Codes() {
		current[entry.Code] = entry.Owner
	}
	for _, entry := range next.Codes() {
		if owner, ok := current[entry.Code]; !ok || owner != entry.Owner {
			if err := n.st.SaveCode(entry.Code, entry.Owner, ""); err != nil {
				return err
			}
		}
		delete(current, entry.Code)
	}
	for code := range current {
		if err := n.st.DeleteCode(code); err != nil {
			return err
		}
	}
	return nil
}

// realignCodeTable rewrites the stored code table from the live mapping
// after a partial persist, best effort.
func (n *Node) realignCodeTable() {
	live := make(map[string]struct{})
	for _, entry := range n.refs.Codes() {
		live[entry.Code] = struct{}{}
		_ = n.st.SaveCode(entry.Code, entry.Owner, "")
	}
	stored, err := n.st.LoadCodes()
	if err != nil {
		return
	}
	for _, entry := range stored {
		if _, ok := live[entry.Code]; !ok {
			_ = n.st.DeleteCode(entry.Code)
		}
	}
}

// ScheduleInitialized reports whether the reward schedule has been set,
// either in this process or by a previous run.
func (n *Node) ScheduleInitialized() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sched.Initialized()
}

// ResolveCode returns the owner of a referral code.
func (n *Node) ResolveCode(code string) (sale.Address, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.refs.Resolve(code)
}

// CodeOf returns the code assigned to an account.
func (n *Node) CodeOf(owner sale.Address) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.refs.CodeOf(owner)
}

// Pause suspends purchases and transfers. Reads, claims of already-accrued
// amounts, and finalization keep working.
func (n *Node) Pause() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.paused {
		return sale.ErrPaused
	}
	n.paused = true
	if err := n.persistMeta(); err != nil {
		n.paused = false
		return err
	}
	n.emit(sale.EventPaused, nil)
	return nil
}

// Resume lifts a pause.
func (n *Node) Resume() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.paused {
		return sale.ErrNotPaused
	}
	n.paused = false
	if err := n.persistMeta(); err != nil {
		n.paused = true
		return err
	}
	n.emit(sale.EventResumed, nil)
	return nil
}

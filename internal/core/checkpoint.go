// internal/core/checkpoint.go
package core

import (
	"github.com/google/uuid"

	"LendLedger/internal/state"
)

// checkpoint tracks the pristine form of every record an operation
// pulls, so a failure after the store was written (a failed solvency
// check or external transfer) restores the store byte for byte.
// Records pulled lazily that did not exist are deleted again on
// rollback, not restored as empty rows.
type checkpoint struct {
	pool *Pool

	reserves  []reserveSnap
	positions []positionSnap
	configs   []configSnap
}

type reserveSnap struct {
	pristine *state.ReserveData
}

type positionSnap struct {
	reserveID uint8
	user      uuid.UUID
	pristine  *state.UserReserveData // nil when the record did not exist
}

type configSnap struct {
	user     uuid.UUID
	pristine *state.UserConfig // nil when the record did not exist
}

func (p *Pool) begin() *checkpoint {
	return &checkpoint{pool: p}
}

// pullReserve loads a working copy of the reserve and snapshots its
// pristine form.
func (c *checkpoint) pullReserve(asset string) (*state.ReserveData, error) {
	reserve, ok := c.pool.store.ReserveByAsset(asset)
	if !ok {
		return nil, ErrAssetNotRegistered
	}
	c.reserves = append(c.reserves, reserveSnap{pristine: reserve.Clone()})
	return reserve, nil
}

// pullPosition loads the user's position in the reserve, creating an
// empty one when the user never touched it.
func (c *checkpoint) pullPosition(r *state.ReserveData, user uuid.UUID) *state.UserReserveData {
	position, ok := c.pool.store.Position(r.ID, user)
	snap := positionSnap{reserveID: r.ID, user: user}
	if ok {
		snap.pristine = position.Clone()
	} else {
		position = state.NewUserReserveData(r)
	}
	c.positions = append(c.positions, snap)
	return position
}

func (c *checkpoint) pullConfig(user uuid.UUID) *state.UserConfig {
	cfg, found := c.pool.store.Config(user)
	snap := configSnap{user: user}
	if found {
		snap.pristine = cfg.Clone()
	}
	c.configs = append(c.configs, snap)
	return cfg
}

// push writes a single-user operation's working copies back. Multi-
// party operations use the keyed push methods instead.
func (c *checkpoint) push(r *state.ReserveData, position *state.UserReserveData, cfg *state.UserConfig) {
	c.pushReserve(r)
	c.pushPosition(c.positions[0].reserveID, c.positions[0].user, position)
	c.pushConfig(c.configs[0].user, cfg)
}

func (c *checkpoint) pushReserve(r *state.ReserveData) {
	c.pool.store.PutReserve(r)
}

func (c *checkpoint) pushPosition(reserveID uint8, user uuid.UUID, position *state.UserReserveData) {
	c.pool.store.PutPosition(reserveID, user, position)
}

func (c *checkpoint) pushConfig(user uuid.UUID, cfg *state.UserConfig) {
	c.pool.store.PutConfig(user, cfg)
}

// rollback restores every touched record to its pristine form.
func (c *checkpoint) rollback() {
	store := c.pool.store
	for _, snap := range c.reserves {
		store.PutReserve(snap.pristine)
	}
	for _, snap := range c.positions {
		if snap.pristine != nil {
			store.PutPosition(snap.reserveID, snap.user, snap.pristine)
		} else {
			store.DeletePosition(snap.reserveID, snap.user)
		}
	}
	for _, snap := range c.configs {
		if snap.pristine != nil {
			store.PutConfig(snap.user, snap.pristine)
		} else {
			store.DeleteConfig(snap.user)
		}
	}
}

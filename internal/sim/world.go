// Package sim drives a small deterministic world that produces one snapshot
// per tick. It stands in for a game simulation so the replication pipeline
// has realistic traffic: slowly changing global state, moving characters,
// short-lived projectiles and pickups that disappear and respawn.
package sim

import (
	"math/rand/v2"

	"github.com/Learath2/libtw2/internal/snap"
)

// Config tunes the demo world.
type Config struct {
	Entities int
	Seed     int64
	// Width and Height bound the play field in world units.
	Width  int32
	Height int32
}

func DefaultConfig() Config {
	return Config{Entities: 32, Seed: 1, Width: 4096, Height: 2048}
}

const (
	maxProjectiles     = 64
	projectileLifetime = 25
	pickupCount        = 8
	pickupRespawnTicks = 40
	maxHealth          = 10
)

type character struct {
	id            uint16
	x, y          int32
	vx, vy        int32
	health, armor int32
}

type projectile struct {
	id        uint16
	x, y      int32
	vx, vy    int32
	startTick snap.Tick
}

type pickup struct {
	id      uint16
	x, y    int32
	kind    int32
	takenAt snap.Tick
	taken   bool
}

// World owns the simulation state. It is not safe for concurrent use; the
// hub steps it from the tick goroutine only.
type World struct {
	cfg         Config
	rng         *rand.Rand
	tick        snap.Tick
	roundStart  snap.Tick
	characters  []character
	projectiles []projectile
	pickups     []pickup
	nextProjID  uint16
}

// NewWorld seeds a world from cfg. Two worlds built from the same config
// produce identical snapshot sequences.
func NewWorld(cfg Config) *World {
	if cfg.Width <= 0 {
		cfg.Width = DefaultConfig().Width
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultConfig().Height
	}
	if cfg.Entities < 0 {
		cfg.Entities = 0
	}
	seed := uint64(cfg.Seed)
	w := &World{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	for i := 0; i < cfg.Entities; i++ {
		w.characters = append(w.characters, character{
			id:     uint16(i),
			x:      w.rng.Int32N(cfg.Width),
			y:      w.rng.Int32N(cfg.Height),
			vx:     w.rng.Int32N(33) - 16,
			vy:     w.rng.Int32N(33) - 16,
			health: maxHealth,
		})
	}
	for i := 0; i < pickupCount; i++ {
		w.pickups = append(w.pickups, pickup{
			id:   uint16(i),
			x:    w.rng.Int32N(cfg.Width),
			y:    w.rng.Int32N(cfg.Height),
			kind: int32(i % 3),
		})
	}
	return w
}

// Tick returns the number of the last completed step.
func (w *World) Tick() snap.Tick {
	return w.tick
}

// Step advances the world by one tick.
func (w *World) Step() {
	w.tick++
	for i := range w.characters {
		w.moveCharacter(&w.characters[i])
	}
	w.advanceProjectiles()
	w.updatePickups()
	if w.tick-w.roundStart >= 3000 {
		w.roundStart = w.tick
	}
}

func (w *World) moveCharacter(c *character) {
	if c.health <= 0 {
		c.health = maxHealth
		c.armor = 0
		c.x = w.rng.Int32N(w.cfg.Width)
		c.y = w.rng.Int32N(w.cfg.Height)
		return
	}
	// Most characters idle on a given tick, so most ticks update only part
	// of the world.
	if w.rng.IntN(4) != 0 {
		return
	}
	c.x, c.vx = bounce(c.x+c.vx, c.vx, w.cfg.Width)
	c.y, c.vy = bounce(c.y+c.vy, c.vy, w.cfg.Height)
	if w.rng.IntN(40) == 0 && len(w.projectiles) < maxProjectiles {
		w.projectiles = append(w.projectiles, projectile{
			id:        w.nextProjID,
			x:         c.x,
			y:         c.y,
			vx:        c.vx * 4,
			vy:        c.vy * 4,
			startTick: w.tick,
		})
		w.nextProjID++
	}
	if w.rng.IntN(60) == 0 {
		c.health--
	}
}

func bounce(pos, vel, limit int32) (int32, int32) {
	switch {
	case pos < 0:
		return -pos, -vel
	case pos >= limit:
		return 2*(limit-1) - pos, -vel
	default:
		return pos, vel
	}
}

func (w *World) advanceProjectiles() {
	live := w.projectiles[:0]
	for _, p := range w.projectiles {
		if w.tick-p.startTick >= projectileLifetime {
			continue
		}
		p.x += p.vx
		p.y += p.vy
		if p.x < 0 || p.y < 0 || p.x >= w.cfg.Width || p.y >= w.cfg.Height {
			continue
		}
		live = append(live, p)
	}
	w.projectiles = live
}

func (w *World) updatePickups() {
	for i := range w.pickups {
		p := &w.pickups[i]
		switch {
		case p.taken && w.tick-p.takenAt >= pickupRespawnTicks:
			p.taken = false
		case !p.taken && w.rng.IntN(200) == 0:
			p.taken = true
			p.takenAt = w.tick
		}
	}
}

// Snapshot renders the current state. Taken pickups are absent, so their
// disappearance shows up as a removal in the next delta.
func (w *World) Snapshot() snap.Snap {
	b := snap.NewBuilder(1 + len(w.characters) + len(w.projectiles) + len(w.pickups))
	add := func(typ, id uint16, data ...int32) {
		// Keys are unique by construction.
		if err := b.Add(snap.ItemKey{Type: typ, ID: id}, data); err != nil {
			panic(err)
		}
	}
	add(ItemGameInfo, 0, 0, int32(w.roundStart), int32(w.tick-w.roundStart))
	for _, c := range w.characters {
		add(ItemCharacter, c.id, c.x, c.y, c.vx, c.vy, c.health, c.armor)
	}
	for _, p := range w.projectiles {
		add(ItemProjectile, p.id, p.x, p.y, p.vx, p.vy, int32(p.startTick))
	}
	for _, p := range w.pickups {
		if !p.taken {
			add(ItemPickup, p.id, p.x, p.y, p.kind)
		}
	}
	return b.Build()
}

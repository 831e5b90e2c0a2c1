package sim

import "github.com/Learath2/libtw2/internal/snap"

// Item types produced by the demo world.
const (
	ItemGameInfo   uint16 = 1
	ItemCharacter  uint16 = 2
	ItemProjectile uint16 = 3
	ItemPickup     uint16 = 4
)

// Word layout of each item type.
const (
	// game info: flags, round start tick, round tick
	gameInfoWords = 3
	// character: x, y, vx, vy, health, armor
	characterWords = 6
	// projectile: x, y, vx, vy, start tick
	projectileWords = 5
	// pickup: x, y, kind
	pickupWords = 3
)

// Schema returns the arity of every item type the world emits.
func Schema() snap.FixedSchema {
	return snap.FixedSchema{
		ItemGameInfo:   gameInfoWords,
		ItemCharacter:  characterWords,
		ItemProjectile: projectileWords,
		ItemPickup:     pickupWords,
	}
}

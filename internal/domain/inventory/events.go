package inventory

import "time"

// KeysAppendedEvent is emitted after an admin restocks a product.
type KeysAppendedEvent struct {
	Product    string
	Added      int
	Available  int
	OccurredAt time.Time
}

func (KeysAppendedEvent) EventName() string { return "inventory.keys_appended" }

func (e KeysAppendedEvent) EventAttributes() map[string]string {
	return map[string]string{"product": e.Product}
}

func NewKeysAppendedEvent(product string, added, available int) KeysAppendedEvent {
	return KeysAppendedEvent{
		Product:    product,
		Added:      added,
		Available:  available,
		OccurredAt: time.Now().UTC(),
	}
}

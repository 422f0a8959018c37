package redisx

import "time"

const (
	// Payment status cache: pay:status:{intent_ref} -> {"status": "...", "at": "..."}
	KeyPaymentStatus = "pay:status:%s"

	// Known gateway transaction per intent: pay:txn:{intent_ref} -> transaction id
	KeyPaymentTxn = "pay:txn:%s"

	// Dedup of consumed events: dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 30 * time.Second
	TTLDedup       = 10 * time.Minute
)

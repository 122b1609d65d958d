package inventory

// TrackingMode describes how units of an item are identified in stock.
// It replaces the hasBatchTracking/hasSerialTracking flag pair with a single
// variant so validation logic can dispatch exhaustively.
type TrackingMode string

const (
	// TrackingModeNone tracks quantity only
	TrackingModeNone TrackingMode = "NONE"
	// TrackingModeBatch tracks stock per lot/batch
	TrackingModeBatch TrackingMode = "BATCH"
	// TrackingModeSerial tracks each unit individually
	TrackingModeSerial TrackingMode = "SERIAL"
	// TrackingModeBatchAndSerial tracks serialized units that belong to lots
	TrackingModeBatchAndSerial TrackingMode = "BATCH_AND_SERIAL"
)

// IsValid returns true if the tracking mode is valid
func (m TrackingMode) IsValid() bool {
	switch m {
	case TrackingModeNone, TrackingModeBatch, TrackingModeSerial, TrackingModeBatchAndSerial:
		return true
	}
	return false
}

// String returns the string representation
func (m TrackingMode) String() string {
	return string(m)
}

// RequiresSerial returns true if every issued unit must carry a serial number
func (m TrackingMode) RequiresSerial() bool {
	return m == TrackingModeSerial || m == TrackingModeBatchAndSerial
}

// UsesBatches returns true if stock for the item is held in lots
func (m TrackingMode) UsesBatches() bool {
	return m == TrackingModeBatch || m == TrackingModeBatchAndSerial
}

// TrackingModeFromFlags folds the legacy boolean pair into the variant
func TrackingModeFromFlags(hasBatch, hasSerial bool) TrackingMode {
	switch {
	case hasBatch && hasSerial:
		return TrackingModeBatchAndSerial
	case hasBatch:
		return TrackingModeBatch
	case hasSerial:
		return TrackingModeSerial
	default:
		return TrackingModeNone
	}
}

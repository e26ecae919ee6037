package engine

// State is the Engine's lifecycle state machine:
//
//	IDLE --start()--> STARTING --ok--> RUNNING --stop()--> STOPPING --> IDLE
//	  ^                   | err            | >=10 fails        |
//	  +-------------------+                +--------------------+
//
// STARTING failures leave the engine in IDLE with the start mutex released.
// From RUNNING, the circuit breaker transitions directly to STOPPING.
type State string

const (
	StateIdle     State = "IDLE"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
)

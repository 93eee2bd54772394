package config

type WorkerKeyStruct struct {
	FinalizedAttemptsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	FinalizedAttemptsQueue: "finalized_attempts_queue",
}

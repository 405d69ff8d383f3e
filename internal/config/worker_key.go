package config

type WorkerKeyStruct struct {
	PersistAnswerRowsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAnswerRowsQueue: "persist_answer_rows_queue",
}

// Package engine is the boundary between the pipeline and the training
// engine that optimizes adapter weights.
//
// The pipeline hands a Job to a Trainer and receives the directory of
// trained adapter weights back. ExecTrainer is the production Trainer: it
// drives an external trainer program through files and a line-oriented JSON
// event stream.
//
// # Protocol
//
// ExecTrainer writes two files into the job directory:
//
//   - job.json: the adapter spec, schedule, tokenization contract, base
//     model path, dataset path, output (checkpoint) directory and weights
//     directory;
//   - dataset.jsonl: one {"text":"...","tokens":N} per line, where text is
//     the formatted training example.
//
// The trainer tokenizes each text with the base model's own tokenizer,
// following job.json's tokenization block: truncate and pad to max_length,
// and use the end-of-sequence token for padding when pad_to_eos is set.
// The local encoder only enforces that length and padding contract and
// validates the texts; its token IDs are not in the base model's vocabulary
// and are never handed to the trainer. The tokens field is the local count
// and is informational.
//
// It then runs the configured command with "--job <path to job.json>"
// appended. The same paths are exported as LORAPACK_JOB, LORAPACK_DATASET,
// LORAPACK_OUTPUT_DIR and LORAPACK_WEIGHTS_DIR. Each stdout line that parses
// as JSON is an Event:
//
//	{"event":"log","step":10,"loss":1.23,"learning_rate":0.0002}
//	{"event":"checkpoint","step":100,"path":"checkpoint-100"}
//
// Other stdout lines and all stderr lines are logged. Exit status 0 with at
// least one file in the weights directory is success.
package engine

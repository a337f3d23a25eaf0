package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP content types
const (
	ContentTypeJSON   = "application/json"
	ContentTypeBinary = "application/octet-stream"
)

// Defaults and limits
const (
	DefaultQueueCapacity = 128
	DefaultWorkerCount   = 4
	SQLiteBusyTimeoutMS  = 5000
)

// MIME types
const (
	MimeImagePNG  = "image/png"
	MimeImageJPEG = "image/jpeg"
	MimeImageJPG  = "image/jpg"
)

// Subdirectory names
const (
	OutputsDirName = "outputs"
	VolumeDirName  = "volume"
)

// Progress bands. Intake owns 0-10%, the OCR run 10-90%, finalization the
// rest. A running OCR batch never reports past OCRBandCap until the engine
// call returns.
const (
	ProgressIntakeSingle = 5
	ProgressIntakeMulti  = 10
	OCRBandStart         = 10
	OCRBandEnd           = 90
	OCRBandCap           = 89
	ProgressFinalize     = 90
	ProgressComplete     = 100
)

// ResultVersion is the artifact format version, mirroring the mokuro file
// format the result schema derives from.
const ResultVersion = "0.2.1"

// Request types accepted by the synchronous invocation face.
const (
	InvokeTypeHealth        = "health"
	InvokeTypeProcessSingle = "process_single"
	InvokeTypeProcessBatch  = "process_batch"
)

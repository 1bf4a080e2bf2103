package constant

type SessionState string

const (
	SessionStateIdle      SessionState = "idle"
	SessionStatePreview   SessionState = "preview"
	SessionStateRecording SessionState = "recording"
	SessionStateReview    SessionState = "review"
	SessionStateAnalyzing SessionState = "analyzing"
)

func (s SessionState) String() string {
	return string(s)
}

type CaptureMode string

const (
	CaptureModeSingle CaptureMode = "single"
	CaptureModeDual   CaptureMode = "dual"
)

func (m CaptureMode) String() string {
	return string(m)
}

// Camera is the wire label of a capture stream. cam0 is the candidate
// camera, cam1 the interviewer camera in dual mode.
type Camera string

const (
	CameraCandidate   Camera = "cam0"
	CameraInterviewer Camera = "cam1"
)

func (c Camera) String() string {
	return string(c)
}

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

type UploadStatus string

const (
	UploadStatusIdle      UploadStatus = "idle"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusRetrying  UploadStatus = "retrying"
	UploadStatusSuccess   UploadStatus = "success"
	UploadStatusError     UploadStatus = "error"
)

func (s UploadStatus) String() string {
	return string(s)
}

type AnalysisStatus string

const (
	AnalysisStatusPending    AnalysisStatus = "pending"
	AnalysisStatusProcessing AnalysisStatus = "processing"
	AnalysisStatusCompleted  AnalysisStatus = "completed"
	AnalysisStatusFailed     AnalysisStatus = "failed"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

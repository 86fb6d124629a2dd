package notify

// Report subjects. Popups pick their urgency from the subject and email
// subjects are derived from it.
const (
	SubjectError        = "Error"
	SubjectFixed        = "Simulation fixed"
	SubjectSubmitted    = "Job submitted"
	SubjectRanNormally  = "Sim ran normally"
	SubjectCleanedUp    = "Cleaned up"
	SubjectSimFinished  = "Simulation finished"
	SubjectAllFinished  = "All simulations finished"
	SubjectSynced       = "rsync successful"
	SubjectSSH          = "SSH Connection not established"
	SubjectSetupWrong   = "SSH setup is wrong"
	SubjectQuota        = "DiskQuotaException caught"
	SubjectQueueDenied  = "Access to queue denied"
	SubjectSubmitFailed = "Error: SSH submit"
	SubjectAppend       = "Error: appending results"
	SubjectRename       = "Error: renaming checkpoint"
	SubjectCleanExit    = "Clean exit"
	SubjectAborted      = "Program aborted"
)

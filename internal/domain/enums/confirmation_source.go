package enums

type ConfirmationSource string

const (
	ConfirmationSourceNotification ConfirmationSource = "notification"
	ConfirmationSourcePoll         ConfirmationSource = "poll"
	ConfirmationSourceSweep        ConfirmationSource = "sweep"
)

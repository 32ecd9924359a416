package notify

import (
	"fmt"
	"time"

	"github.com/oszuidwest/rdio-vox/internal/util"
)

// message is a rendered alert, shared by the webhook and e-mail channels.
type message struct {
	event   string
	subject string
	body    string
	payload WebhookPayload
}

func uploadFailedMessage(station string, a UploadAlert) message {
	return message{
		event:   EventUploadFailed,
		subject: "[ALERT] Upload Failed - " + station,
		body: fmt.Sprintf(
			"A call recording could not be delivered at %s.\n\n"+
				"Session:   %s\n"+
				"File:      %s\n"+
				"Talkgroup: %s\n"+
				"Duration:  %s\n"+
				"Attempts:  %d\n"+
				"Error:     %s\n\n"+
				"The recording is kept on disk. Check the Rdio Scanner server and API key.",
			util.FormatHumanTime(time.Now()), a.SessionID, a.Filename, a.Talkgroup,
			util.FormatDuration(a.Duration), a.Attempts, errString(a.Err),
		),
		payload: WebhookPayload{
			SessionID: a.SessionID,
			Filename:  a.Filename,
			Attempts:  a.Attempts,
			Talkgroup: a.Talkgroup,
			Error:     errString(a.Err),
		},
	}
}

func uploadDroppedMessage(station string, a UploadAlert) message {
	return message{
		event:   EventUploadDropped,
		subject: "[ALERT] Upload Queue Full - " + station,
		body: fmt.Sprintf(
			"The upload queue overflowed at %s and a call was not sent.\n\n"+
				"Session:   %s\n"+
				"File:      %s\n"+
				"Talkgroup: %s\n\n"+
				"The recording is kept on disk. Uploads are falling behind the traffic.",
			util.FormatHumanTime(time.Now()), a.SessionID, a.Filename, a.Talkgroup,
		),
		payload: WebhookPayload{
			SessionID: a.SessionID,
			Filename:  a.Filename,
			Talkgroup: a.Talkgroup,
		},
	}
}

func deviceErrorMessage(station string, err error) message {
	return message{
		event:   EventDeviceError,
		subject: "[ALERT] Audio Device Error - " + station,
		body: fmt.Sprintf(
			"Monitoring stopped because the audio device failed at %s.\n\n"+
				"Error: %s\n\n"+
				"No calls are recorded until monitoring is started again.",
			util.FormatHumanTime(time.Now()), errString(err),
		),
		payload: WebhookPayload{Error: errString(err)},
	}
}

func deviceRecoveredMessage(station string) message {
	return message{
		event:   EventDeviceRecovered,
		subject: "[OK] Monitoring Resumed - " + station,
		body: fmt.Sprintf(
			"Monitoring started again at %s after an audio device error.",
			util.FormatHumanTime(time.Now()),
		),
	}
}

func testMessage(station string) message {
	return message{
		event:   EventTest,
		subject: "[TEST] " + station,
		body: fmt.Sprintf(
			"Test notification from %s.\n\nTime: %s\n\nNotification settings are working.",
			AppName, util.FormatHumanTime(time.Now()),
		),
		payload: WebhookPayload{Message: "This is a test notification from " + station},
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

package core

// Speaker identifies which side of the conversation produced a transcript.
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerRemote Speaker = "remote"
)

// Speakers lists every speaker in a stable order.
var Speakers = []Speaker{SpeakerUser, SpeakerRemote}

func (s Speaker) Valid() bool {
	return s == SpeakerUser || s == SpeakerRemote
}

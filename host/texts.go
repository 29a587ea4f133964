package host

import "fmt"

const (
	NoticeOpponentRequired = "Please click on the opponent's character actions to start this activity."
	NoticeInviteDeclined   = "Invitation declined."
	NoticeCannotTravel     = "You cannot travel there right now."
	NoticePeerLeftRoom     = "The other player left the private room."
	NoticeOpponentLeft     = "Your opponent is no longer here."
)

func NoticeInviteSent(opponentName string) string {
	return fmt.Sprintf("Invitation sent to %s.", opponentName)
}

func PromptActivityInvite(initiatorName, activityName string) string {
	return fmt.Sprintf("%s wants to play %s. Accept?", initiatorName, activityName)
}

func PromptRoomInvite(initiatorName, roomName string) string {
	return fmt.Sprintf("%s wants to bring you to %s. Accept?", initiatorName, roomName)
}

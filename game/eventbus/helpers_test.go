package eventbus

import "github.com/kasuganosora/eventvm/resource"

func resourceEvent() *resource.GameEvent {
	ev := resource.NewGameEvent(2, "Gate", 0, 0)
	ev.Pages[0].List = []*resource.EventCommand{
		resource.NewPlayBGM(0, "Field", 90, 100, 0),
		resource.NewTransferPlayer(0, 3, 1, 2, 2),
	}
	return ev
}

package kronix

// Action names a phase of a component build. The Past and Gerund forms feed
// status lines ("built gcc", "building gcc") so messages read naturally in
// both tenses.
type Action int

const (
	ActionDownload Action = iota
	ActionConfigure
	ActionBuild
	ActionInstall
)

var actionForms = [...]struct {
	name   string
	past   string
	gerund string
}{
	ActionDownload:  {"download", "downloaded", "downloading"},
	ActionConfigure: {"configure", "configured", "configuring"},
	ActionBuild:     {"build", "built", "building"},
	ActionInstall:   {"install", "installed", "installing"},
}

func (a Action) String() string { return actionForms[a].name }

// Past is the completed-tense form, used after a phase finishes.
func (a Action) Past() string { return actionForms[a].past }

// Gerund is the in-progress form, used while a phase runs.
func (a Action) Gerund() string { return actionForms[a].gerund }

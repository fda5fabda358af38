package browser

// DialogKind is the type of a native dialog.
type DialogKind string

const (
	DialogAlert        DialogKind = "alert"
	DialogConfirm      DialogKind = "confirm"
	DialogPrompt       DialogKind = "prompt"
	DialogBeforeUnload DialogKind = "beforeunload"
)

// Dialog is a native dialog raised by the page.
type Dialog struct {
	Kind          DialogKind
	Message       string
	DefaultPrompt string
}

// DialogReply is how a responder answers a dialog.
type DialogReply struct {
	Accept     bool
	PromptText string
}

// DialogResponder decides the reply to a dialog. It must not block: drivers
// call it while the page is suspended on the dialog.
type DialogResponder func(Dialog) DialogReply

// AcceptDialogs accepts every dialog, answering prompts with their default.
func AcceptDialogs(d Dialog) DialogReply {
	return DialogReply{Accept: true, PromptText: d.DefaultPrompt}
}

// DismissDialogs dismisses every dialog.
func DismissDialogs(Dialog) DialogReply {
	return DialogReply{}
}

// RecordDialogs wraps next and appends every dialog it sees to seen.
func RecordDialogs(seen *[]Dialog, next DialogResponder) DialogResponder {
	if next == nil {
		next = AcceptDialogs
	}
	return func(d Dialog) DialogReply {
		*seen = append(*seen, d)
		return next(d)
	}
}

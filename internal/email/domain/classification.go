package domain

// Classification is the closed set of handling categories a message can be
// assigned. The external classifier and the repeat-offender tracker both
// produce values from this set; anything else is rejected at the boundary.
type Classification string

const (
	ClassificationPending       Classification = "pending"
	ClassificationBlocked       Classification = "blocked"
	ClassificationSafe          Classification = "safe"
	ClassificationInbox         Classification = "inbox"
	ClassificationPersonal      Classification = "personal"
	ClassificationConversations Classification = "conversations"
	ClassificationMarketing     Classification = "marketing"
	ClassificationColdOutreach  Classification = "cold_outreach"
	ClassificationSpam          Classification = "spam"
)

// LabelBehavior describes what a classification means for the mailbox:
// whether the message stays visible in the inbox and whether it is marked
// read on the way out. Adding a tag is a one-place change here.
type LabelBehavior struct {
	KeepInInbox bool
	MarkRead    bool
}

var classificationBehavior = map[Classification]LabelBehavior{
	ClassificationSafe:          {KeepInInbox: true},
	ClassificationInbox:         {KeepInInbox: true},
	ClassificationPersonal:      {KeepInInbox: true},
	ClassificationConversations: {KeepInInbox: true},
	ClassificationMarketing:     {MarkRead: true},
	ClassificationColdOutreach:  {MarkRead: true},
	ClassificationSpam:          {MarkRead: true},
	ClassificationBlocked:       {MarkRead: true},
}

// Valid reports whether c is a recognized terminal tag.
func (c Classification) Valid() bool {
	_, ok := classificationBehavior[c]
	return ok
}

func (c Classification) Behavior() LabelBehavior {
	return classificationBehavior[c]
}

// Negative reports whether the tag denotes a blocked category and should
// feed the repeat-offender counter.
func (c Classification) Negative() bool {
	switch c {
	case ClassificationBlocked, ClassificationSpam, ClassificationColdOutreach:
		return true
	}
	return false
}

// Package view holds presentation state that is independent of HTML.
package view

// Tab is one dashboard section.
type Tab string

const (
	TabFeed    Tab = "feed"
	TabSubmit  Tab = "submit"
	TabRatings Tab = "ratings"
	TabAdmin   Tab = "admin"
)

// TabInfo is what the template needs to draw a tab button.
type TabInfo struct {
	Tab    Tab
	Label  string
	Active bool
}

// Navigator is the dashboard's tab state machine. It starts on the feed.
// Admins see feed and admin; everyone else sees feed, submit and
// ratings. Selecting a tab that is not available falls back to the feed.
// State lives for one request and is never persisted.
type Navigator struct {
	isAdmin bool
	current Tab
}

func NewNavigator(isAdmin bool) *Navigator {
	return &Navigator{isAdmin: isAdmin, current: TabFeed}
}

func (n *Navigator) Available() []Tab {
	if n.isAdmin {
		return []Tab{TabFeed, TabAdmin}
	}
	return []Tab{TabFeed, TabSubmit, TabRatings}
}

func (n *Navigator) Allows(t Tab) bool {
	for _, a := range n.Available() {
		if a == t {
			return true
		}
	}
	return false
}

// Select moves to t if allowed and returns the resulting tab.
func (n *Navigator) Select(t Tab) Tab {
	if n.Allows(t) {
		n.current = t
	} else {
		n.current = TabFeed
	}
	return n.current
}

func (n *Navigator) Current() Tab {
	return n.current
}

func (n *Navigator) Tabs() []TabInfo {
	available := n.Available()
	out := make([]TabInfo, 0, len(available))
	for _, t := range available {
		out = append(out, TabInfo{Tab: t, Label: labels[t], Active: t == n.current})
	}
	return out
}

var labels = map[Tab]string{
	TabFeed:    "Problem Feed",
	TabSubmit:  "Submit Problem",
	TabRatings: "Rate Institution",
	TabAdmin:   "Admin Panel",
}

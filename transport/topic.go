package transport

import (
	"strings"
	"sync"
)

// MatchTopic reports whether a topic name matches a subscription filter,
// honouring the + and # wildcards. Topics starting with $ never match a
// filter that starts with a wildcard.
func MatchTopic(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if strings.HasPrefix(topic, "$") && (filter[0] == '+' || filter[0] == '#') {
		return false
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, level := range fl {
		switch {
		case level == "#":
			return i == len(fl)-1
		case i >= len(tl):
			return false
		case level != "+" && level != tl[i]:
			return false
		}
	}
	return len(fl) == len(tl)
}

// TopicTrie maps subscription filters to subscriber ids.
type TopicTrie struct {
	lock  sync.RWMutex
	nodes []trieNode
}

type trieNode struct {
	subs     []string
	children map[string]int
}

func NewTopicTrie() *TopicTrie {
	return &TopicTrie{
		nodes: []trieNode{
			// root
			{children: make(map[string]int, 16)},
		},
	}
}

// AddSubscription adds sid under filter. filter is expected to be valid.
func (t *TopicTrie) AddSubscription(filter string, sid string) {
	t.lock.Lock()
	defer t.lock.Unlock()

	curr := 0
	for _, level := range strings.Split(filter, "/") {
		child, ok := t.nodes[curr].children[level]
		if !ok {
			child = len(t.nodes)
			t.nodes = append(t.nodes, trieNode{children: make(map[string]int, 4)})
			t.nodes[curr].children[level] = child
		}
		curr = child
	}
	for _, s := range t.nodes[curr].subs {
		if s == sid {
			return
		}
	}
	t.nodes[curr].subs = append(t.nodes[curr].subs, sid)
}

// FindMatches returns every subscriber whose filter matches topic, each at
// most once.
func (t *TopicTrie) FindMatches(topic string) (matches []string) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	seen := map[string]bool{}
	add := func(n int) {
		for _, s := range t.nodes[n].subs {
			if !seen[s] {
				seen[s] = true
				matches = append(matches, s)
			}
		}
	}

	levels := strings.Split(topic, "/")
	dollar := strings.HasPrefix(topic, "$")
	curr := []int{0}
	for depth, level := range levels {
		next := make([]int, 0, len(curr))
		for _, n := range curr {
			wild := !(dollar && depth == 0)
			if h, ok := t.nodes[n].children["#"]; ok && wild {
				add(h)
			}
			if p, ok := t.nodes[n].children["+"]; ok && wild {
				next = append(next, p)
			}
			if c, ok := t.nodes[n].children[level]; ok {
				next = append(next, c)
			}
		}
		curr = next
	}

	for _, n := range curr {
		add(n)
		// "a/#" also matches "a"
		if h, ok := t.nodes[n].children["#"]; ok {
			add(h)
		}
	}
	return
}

// RemoveSubs drops sid from every filter.
func (t *TopicTrie) RemoveSubs(sid string) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for i := range t.nodes {
		subs := t.nodes[i].subs
		for j, s := range subs {
			if s == sid {
				subs[j] = subs[len(subs)-1]
				t.nodes[i].subs = subs[:len(subs)-1]
				break
			}
		}
	}
}

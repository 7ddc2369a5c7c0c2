package memcache

import (
	"fmt"
	"sort"
)

// Server is one memcached endpoint. A server with weight 2 receives twice
// the keys of a server with weight 1.
type Server struct {
	Addr   string
	Weight int
}

func (s Server) String() string {
	return fmt.Sprintf("%s(weight=%d)", s.Addr, s.Weight)
}

// Servers is an immutable weighted server list, safe for concurrent use.
type Servers struct {
	list       []Server
	cumulative []int // cumulative[i] is the sum of weights of list[:i+1]
	selector   ServerSelector
}

// NewServers validates the server list and builds its weight table.
// Weights must be positive and addresses unique.
func NewServers(servers ...Server) (*Servers, error) {
	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	seen := make(map[string]bool, len(servers))
	cumulative := make([]int, len(servers))
	total := 0
	for i, s := range servers {
		if s.Addr == "" {
			return nil, fmt.Errorf("memcache: server %d has no address", i)
		}
		if s.Weight <= 0 {
			return nil, fmt.Errorf("memcache: server %s has weight %d, must be positive", s.Addr, s.Weight)
		}
		if seen[s.Addr] {
			return nil, fmt.Errorf("memcache: server %s listed twice", s.Addr)
		}
		seen[s.Addr] = true

		total += s.Weight
		cumulative[i] = total
	}

	return &Servers{
		list:       append([]Server(nil), servers...),
		cumulative: cumulative,
		selector:   DefaultServerSelector,
	}, nil
}

// ServersFromAddr builds a server list where every server has weight 1.
// It panics when no address is given.
func ServersFromAddr(addresses ...string) *Servers {
	servers := make([]Server, len(addresses))
	for i, addr := range addresses {
		servers[i] = Server{Addr: addr, Weight: 1}
	}

	s, err := NewServers(servers...)
	if err != nil {
		panic(err)
	}
	return s
}

// WithSelector returns a copy of the list using selector to pick servers.
func (s *Servers) WithSelector(selector ServerSelector) *Servers {
	if selector == nil {
		selector = DefaultServerSelector
	}
	clone := *s
	clone.selector = selector
	return &clone
}

func (s *Servers) List() []Server {
	return append([]Server(nil), s.list...)
}

func (s *Servers) TotalWeight() int {
	return s.cumulative[len(s.cumulative)-1]
}

// Select returns the server owning key. The same key always maps to the same
// server for a given list.
func (s *Servers) Select(key string) Server {
	return s.list[s.index(key)]
}

func (s *Servers) index(key string) int {
	if len(s.list) == 1 {
		return 0
	}

	total := s.TotalWeight()
	point := s.selector(key, total) % total
	if point < 0 {
		point += total
	}
	return sort.Search(len(s.cumulative), func(i int) bool {
		return s.cumulative[i] > point
	})
}

// Partition groups keys by owning server, preserving their relative order.
func (s *Servers) Partition(keys []string) map[Server][]string {
	partitions := make(map[Server][]string)
	for _, key := range keys {
		server := s.Select(key)
		partitions[server] = append(partitions[server], key)
	}
	return partitions
}

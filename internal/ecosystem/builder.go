// Package ecosystem projects a viewer's flat scope payload into a rooted
// relationship tree.
package ecosystem

import (
	"sort"
	"strings"

	"opsportal/internal/domain"
)

// Node is one entity on the tree.
type Node struct {
	ID       string      `json:"id"`
	Role     domain.Role `json:"role"`
	Name     string      `json:"name"`
	Status   string      `json:"status,omitempty"`
	Children []*Node     `json:"children,omitempty"`
}

// Walk visits n and its descendants depth-first, parents before children.
// Returning false from fn skips the node's subtree.
func (n *Node) Walk(fn func(node *Node, depth int) bool) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(*Node, int) bool, depth int) {
	if n == nil || !fn(n, depth) {
		return
	}
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}

// Find returns the first node with id, or nil.
func (n *Node) Find(id string) *Node {
	var found *Node
	n.Walk(func(node *Node, _ int) bool {
		if found != nil {
			return false
		}
		if node.ID == id {
			found = node
			return false
		}
		return true
	})
	return found
}

// Count is the number of nodes including n.
func (n *Node) Count() int {
	total := 0
	n.Walk(func(*Node, int) bool {
		total++
		return true
	})
	return total
}

type recipe func(b *builder, rel domain.Relationships)

// recipes must cover every business role; see TestRecipesCoverBusinessRoles.
var recipes = map[domain.Role]recipe{
	domain.RoleManager: func(b *builder, rel domain.Relationships) {
		b.flat(b.root, rel.Contractors, domain.RoleContractor)
		b.customerChain(rel)
	},
	domain.RoleContractor: func(b *builder, rel domain.Relationships) {
		b.refs(rel.Manager)
		b.customerChain(rel)
	},
	domain.RoleCustomer: func(b *builder, rel domain.Relationships) {
		b.refs(rel.Manager, rel.Contractor)
		b.centerChain(rel, nil)
		b.flat(b.root, rel.Services, domain.RoleService)
	},
	domain.RoleCenter: func(b *builder, rel domain.Relationships) {
		b.refs(rel.Manager, rel.Contractor, rel.Customer)
		b.flat(b.root, rel.Crew, domain.RoleCrew)
		b.flat(b.root, rel.Services, domain.RoleService)
	},
	domain.RoleCrew: func(b *builder, rel domain.Relationships) {
		b.refs(rel.Manager, rel.Contractor, rel.Customer)
		b.flat(b.root, rel.Services, domain.RoleService)
	},
	domain.RoleWarehouse: func(b *builder, rel domain.Relationships) {
		b.refs(rel.Manager)
		b.flat(b.root, rel.Orders, domain.RoleOrder)
		b.flat(b.root, rel.Inventory, domain.RoleInventory)
	},
}

type builder struct {
	root     *Node
	reserved map[string]bool
	parents  map[*Node]*Node
}

// Build returns the ecosystem tree of scope as seen by its viewer. It never
// fails; an unknown viewer role yields a bare root.
func Build(scope domain.Scope, viewerName string) *Node {
	root := &Node{
		ID:   scope.CksCode,
		Role: scope.Role,
		Name: rootName(scope, viewerName),
	}
	b := &builder{
		root:     root,
		reserved: map[string]bool{root.ID: true},
		parents:  map[*Node]*Node{},
	}
	var center *domain.ScopeNode
	if scope.Role == domain.RoleCrew {
		center = crewCenter(scope)
		if center != nil {
			b.reserved[center.ID] = true
		}
	}
	if r, ok := recipes[scope.Role]; ok {
		r(b, scope.Relationships)
	}
	sortTree(root)
	if center == nil {
		return root
	}
	// Crew viewers see their assigned center on top.
	top := &Node{
		ID:       center.ID,
		Role:     domain.RoleCenter,
		Name:     displayName(*center, domain.RoleCenter),
		Status:   center.Status,
		Children: []*Node{root},
	}
	return top
}

func rootName(scope domain.Scope, viewerName string) string {
	for _, s := range []string{viewerName, scope.Name} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	if scope.Role.IsBusiness() {
		return scope.Role.Label()
	}
	return scope.CksCode
}

func displayName(n domain.ScopeNode, role domain.Role) string {
	if s := strings.TrimSpace(n.Name); s != "" {
		return s
	}
	if s := strings.TrimSpace(n.ID); s != "" {
		return s
	}
	return role.Label()
}

// crewCenter resolves the crew viewer's center from the center ref or, when
// only the assignment is known, from the summary.
func crewCenter(scope domain.Scope) *domain.ScopeNode {
	if c := scope.Relationships.Center; c != nil && strings.TrimSpace(c.ID) != "" {
		return c
	}
	for _, key := range []string{"assignedCenter", "centerId"} {
		if id, ok := scope.Summary[key].(string); ok && strings.TrimSpace(id) != "" {
			return &domain.ScopeNode{ID: strings.TrimSpace(id), Role: domain.RoleCenter}
		}
	}
	return nil
}

func (b *builder) newNode(n domain.ScopeNode, fallback domain.Role) *Node {
	role := n.Role
	if role == "" {
		role = fallback
	}
	return &Node{ID: n.ID, Role: role, Name: displayName(n, role), Status: n.Status}
}

// attach adds child under parent. A child equal to the root (or the crew
// viewer's center) is the viewer itself and is dropped; a child repeating an
// ancestor id moves to the root.
func (b *builder) attach(parent, child *Node) bool {
	if b.reserved[child.ID] {
		return false
	}
	for p := parent; p != nil; p = b.parents[p] {
		if p.ID == child.ID {
			parent = b.root
			break
		}
	}
	parent.Children = append(parent.Children, child)
	b.parents[child] = parent
	return true
}

// unique drops blank ids and later duplicates within one list.
func unique(list []domain.ScopeNode) []domain.ScopeNode {
	seen := make(map[string]bool, len(list))
	out := make([]domain.ScopeNode, 0, len(list))
	for _, n := range list {
		n.ID = strings.TrimSpace(n.ID)
		if n.ID == "" || seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		out = append(out, n)
	}
	return out
}

func (b *builder) flat(parent *Node, list []domain.ScopeNode, role domain.Role) {
	for _, n := range unique(list) {
		b.attach(parent, b.newNode(n, role))
	}
}

var refRoles = []domain.Role{domain.RoleManager, domain.RoleContractor, domain.RoleCustomer, domain.RoleCenter}

// refs attaches single relationship refs under the root. Refs are passed in
// manager, contractor, customer, center order.
func (b *builder) refs(refs ...*domain.ScopeNode) {
	for i, r := range refs {
		if r == nil || strings.TrimSpace(r.ID) == "" {
			continue
		}
		n := *r
		n.ID = strings.TrimSpace(n.ID)
		b.attach(b.root, b.newNode(n, refRoles[i]))
	}
}

// customerChain nests centers under customers and crew under centers.
func (b *builder) customerChain(rel domain.Relationships) {
	customers := map[string]*Node{}
	for _, n := range unique(rel.Customers) {
		node := b.newNode(n, domain.RoleCustomer)
		if b.attach(b.root, node) {
			customers[n.ID] = node
		}
	}
	b.centerChain(rel, customers)
}

func (b *builder) centerChain(rel domain.Relationships, customers map[string]*Node) {
	centers := map[string]*Node{}
	for _, n := range unique(rel.Centers) {
		parent := b.root
		if p, ok := customers[strings.TrimSpace(n.CustomerID)]; ok {
			parent = p
		}
		node := b.newNode(n, domain.RoleCenter)
		if b.attach(parent, node) {
			centers[n.ID] = node
		}
	}
	for _, n := range unique(rel.Crew) {
		parent := b.root
		if p, ok := centers[crewCenterID(n)]; ok {
			parent = p
		}
		b.attach(parent, b.newNode(n, domain.RoleCrew))
	}
}

func crewCenterID(n domain.ScopeNode) string {
	if id := strings.TrimSpace(n.AssignedCenter); id != "" {
		return id
	}
	return strings.TrimSpace(n.CenterID)
}

func sortTree(n *Node) {
	sort.SliceStable(n.Children, func(i, j int) bool {
		a, b := strings.ToLower(n.Children[i].Name), strings.ToLower(n.Children[j].Name)
		if a != b {
			return a < b
		}
		return n.Children[i].ID < n.Children[j].ID
	})
	for _, c := range n.Children {
		sortTree(c)
	}
}

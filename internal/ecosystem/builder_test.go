package ecosystem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsportal/internal/domain"
)

// shape renders a tree as "Name[child,child]" for compact assertions.
func shape(n *Node) string {
	s := n.Name
	if len(n.Children) == 0 {
		return s
	}
	s += "["
	for i, c := range n.Children {
		if i > 0 {
			s += ","
		}
		s += shape(c)
	}
	return s + "]"
}

func assertNoRepeatOnPaths(t *testing.T, root *Node) {
	t.Helper()
	var visit func(n *Node, path map[string]bool)
	visit = func(n *Node, path map[string]bool) {
		require.False(t, path[n.ID], "id %s repeats on a root-to-leaf path", n.ID)
		path[n.ID] = true
		for _, c := range n.Children {
			visit(c, path)
		}
		delete(path, n.ID)
	}
	visit(root, map[string]bool{})
}

func TestManagerScenario(t *testing.T) {
	scope := domain.Scope{
		Role:    domain.RoleManager,
		CksCode: "MGR-001",
		Relationships: domain.Relationships{
			Contractors: []domain.ScopeNode{{ID: "A"}},
			Customers:   []domain.ScopeNode{{ID: "C1", ContractorID: "A"}},
			Centers:     []domain.ScopeNode{{ID: "X", CustomerID: "C1"}},
			Crew:        []domain.ScopeNode{{ID: "Y", AssignedCenter: "X"}},
		},
	}
	tree := Build(scope, "")
	assert.Equal(t, "Manager[A,C1[X[Y]]]", shape(tree))
	assert.Equal(t, "MGR-001", tree.ID)
	assert.Equal(t, domain.RoleCrew, tree.Find("Y").Role)
	assert.Equal(t, 5, tree.Count())
	assertNoRepeatOnPaths(t, tree)
}

func TestCrewIsReRootedUnderCenter(t *testing.T) {
	scope := domain.Scope{
		Role:    domain.RoleCrew,
		CksCode: "CRW-001",
		Name:    "Pat",
		Relationships: domain.Relationships{
			Manager:  &domain.ScopeNode{ID: "MGR-001", Name: "Morgan"},
			Center:   &domain.ScopeNode{ID: "CTR-1"},
			Services: []domain.ScopeNode{{ID: "SRV-2", Name: "Window cleaning"}},
		},
	}
	tree := Build(scope, "")
	assert.Equal(t, "CTR-1", tree.ID)
	assert.Equal(t, domain.RoleCenter, tree.Role)
	require.NotEmpty(t, tree.Children)
	assert.Equal(t, "CRW-001", tree.Children[0].ID)
	assert.Equal(t, "CTR-1[Pat[Morgan,Window cleaning]]", shape(tree))
	assertNoRepeatOnPaths(t, tree)
}

func TestCrewCenterFromSummary(t *testing.T) {
	scope := domain.Scope{
		Role:    domain.RoleCrew,
		CksCode: "CRW-002",
		Summary: map[string]any{"assignedCenter": "CTR-9"},
	}
	tree := Build(scope, "")
	assert.Equal(t, "CTR-9", tree.ID)
	assert.Equal(t, "CRW-002", tree.Children[0].ID)
}

func TestCrewWithoutCenterStaysRoot(t *testing.T) {
	tree := Build(domain.Scope{Role: domain.RoleCrew, CksCode: "CRW-003"}, "")
	assert.Equal(t, "CRW-003", tree.ID)
	assert.Equal(t, "Crew Member", tree.Name)
	assert.Empty(t, tree.Children)
}

func TestCentersSortCaseInsensitively(t *testing.T) {
	scope := domain.Scope{
		Role:    domain.RoleContractor,
		CksCode: "CON-001",
		Relationships: domain.Relationships{
			Customers: []domain.ScopeNode{{ID: "CUS-1", Name: "Acme"}},
			Centers: []domain.ScopeNode{
				{ID: "CTR-2", Name: "Zeta", CustomerID: "CUS-1"},
				{ID: "CTR-1", Name: "alpha", CustomerID: "CUS-1"},
				{ID: "CTR-0", Name: "Alpha", CustomerID: "CUS-1"},
			},
		},
	}
	tree := Build(scope, "Conrad")
	cust := tree.Find("CUS-1")
	require.NotNil(t, cust)
	require.Len(t, cust.Children, 3)
	assert.Equal(t, []string{"CTR-0", "CTR-1", "CTR-2"}, []string{cust.Children[0].ID, cust.Children[1].ID, cust.Children[2].ID})
	assert.Equal(t, "Conrad", tree.Name)
}

func TestOrphansAttachUnderRoot(t *testing.T) {
	scope := domain.Scope{
		Role:    domain.RoleManager,
		CksCode: "MGR-001",
		Relationships: domain.Relationships{
			Centers: []domain.ScopeNode{{ID: "CTR-7", CustomerID: "CUS-missing"}},
			Crew:    []domain.ScopeNode{{ID: "CRW-7", AssignedCenter: "CTR-missing"}},
		},
	}
	tree := Build(scope, "")
	assert.Equal(t, "Manager[CRW-7,CTR-7]", shape(tree))
}

func TestDuplicatesAndSelfReferences(t *testing.T) {
	scope := domain.Scope{
		Role:    domain.RoleManager,
		CksCode: "MGR-001",
		Relationships: domain.Relationships{
			Contractors: []domain.ScopeNode{{ID: "CON-1", Name: "First"}, {ID: "CON-1", Name: "Second"}, {ID: "MGR-001"}},
			Customers:   []domain.ScopeNode{{ID: "C1"}},
			Centers:     []domain.ScopeNode{{ID: "X", CustomerID: "C1"}},
			// This crew id repeats the id of its center's customer.
			Crew: []domain.ScopeNode{{ID: "C1", AssignedCenter: "X"}},
		},
	}
	tree := Build(scope, "Maya")
	assert.Equal(t, "Maya[C1[X],C1,First]", shape(tree))
	assertNoRepeatOnPaths(t, tree)
}

func TestDisplayNameFallbacks(t *testing.T) {
	scope := domain.Scope{
		Role:    domain.RoleWarehouse,
		CksCode: "WHS-001",
		Name:    "North Depot",
		Relationships: domain.Relationships{
			Inventory: []domain.ScopeNode{{ID: "INV-1", Name: " "}},
			Orders:    []domain.ScopeNode{{ID: "PO-1", Name: "Paper towels"}},
		},
	}
	tree := Build(scope, "")
	assert.Equal(t, "North Depot", tree.Name)
	inv := tree.Find("INV-1")
	require.NotNil(t, inv)
	assert.Equal(t, "INV-1", inv.Name)
	assert.Equal(t, domain.RoleInventory, inv.Role)
	assert.Equal(t, "Inventory Item", displayName(domain.ScopeNode{}, domain.RoleInventory))
}

func TestUnknownRoleYieldsBareRoot(t *testing.T) {
	tree := Build(domain.Scope{
		Role:          domain.Role("auditor"),
		CksCode:       "AUD-1",
		Relationships: domain.Relationships{Contractors: []domain.ScopeNode{{ID: "CON-1"}}},
	}, "")
	assert.Equal(t, "AUD-1", tree.Name)
	assert.Empty(t, tree.Children)
}

func TestRecipesCoverBusinessRoles(t *testing.T) {
	for _, r := range domain.BusinessRoles {
		_, ok := recipes[r]
		assert.True(t, ok, "no ecosystem recipe for role %s", r)
	}
	assert.Len(t, recipes, len(domain.BusinessRoles))
}

func TestEveryInputNodeAppearsOnce(t *testing.T) {
	rel := domain.Relationships{
		Manager:     &domain.ScopeNode{ID: "MGR-001"},
		Contractor:  &domain.ScopeNode{ID: "CON-001"},
		Customer:    &domain.ScopeNode{ID: "CUS-001"},
		Contractors: []domain.ScopeNode{{ID: "CON-002"}},
		Customers:   []domain.ScopeNode{{ID: "CUS-002", Name: "b"}, {ID: "CUS-003", Name: "a"}},
		Centers:     []domain.ScopeNode{{ID: "CTR-1", CustomerID: "CUS-002"}, {ID: "CTR-2", CustomerID: "nobody"}},
		Crew:        []domain.ScopeNode{{ID: "CRW-1", AssignedCenter: "CTR-1"}, {ID: "CRW-2", CenterID: "CTR-2"}},
		Services:    []domain.ScopeNode{{ID: "SRV-1"}},
	}
	expected := map[domain.Role][]string{
		domain.RoleManager:    {"CON-002", "CUS-002", "CUS-003", "CTR-1", "CTR-2", "CRW-1", "CRW-2"},
		domain.RoleContractor: {"MGR-001", "CUS-002", "CUS-003", "CTR-1", "CTR-2", "CRW-1", "CRW-2"},
		domain.RoleCustomer:   {"MGR-001", "CON-001", "CTR-1", "CTR-2", "CRW-1", "CRW-2", "SRV-1"},
		domain.RoleCenter:     {"MGR-001", "CON-001", "CUS-001", "CRW-1", "CRW-2", "SRV-1"},
	}
	for role, ids := range expected {
		tree := Build(domain.Scope{Role: role, CksCode: "VIEWER", Relationships: rel}, "")
		assertNoRepeatOnPaths(t, tree)
		seen := map[string]int{}
		tree.Walk(func(n *Node, depth int) bool {
			if depth > 0 {
				seen[n.ID]++
			}
			return true
		})
		for _, id := range ids {
			assert.Equal(t, 1, seen[id], "role %s id %s", role, id)
		}
		assert.Len(t, seen, len(ids), "role %s", role)
	}
}

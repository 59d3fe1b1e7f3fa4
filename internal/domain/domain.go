package domain

import "encoding/json"

// Role is a business actor or a leaf kind on the ecosystem tree.
type Role string

const (
	RoleManager    Role = "manager"
	RoleContractor Role = "contractor"
	RoleCustomer   Role = "customer"
	RoleCenter     Role = "center"
	RoleCrew       Role = "crew"
	RoleWarehouse  Role = "warehouse"

	RoleService   Role = "service"
	RoleProduct   Role = "product"
	RoleOrder     Role = "order"
	RoleInventory Role = "inventory"
)

// BusinessRoles is the closed set of viewer roles.
var BusinessRoles = []Role{RoleManager, RoleContractor, RoleCustomer, RoleCenter, RoleCrew, RoleWarehouse}

// IsBusiness reports whether r is one of the six viewer roles.
func (r Role) IsBusiness() bool {
	for _, b := range BusinessRoles {
		if r == b {
			return true
		}
	}
	return false
}

// Label is the generic display label for a role.
func (r Role) Label() string {
	switch r {
	case RoleManager:
		return "Manager"
	case RoleContractor:
		return "Contractor"
	case RoleCustomer:
		return "Customer"
	case RoleCenter:
		return "Center"
	case RoleCrew:
		return "Crew Member"
	case RoleWarehouse:
		return "Warehouse"
	case RoleService:
		return "Service"
	case RoleProduct:
		return "Product"
	case RoleOrder:
		return "Order"
	case RoleInventory:
		return "Inventory Item"
	default:
		return "Unknown"
	}
}

type OrderType string

const (
	OrderTypeService OrderType = "service"
	OrderTypeProduct OrderType = "product"
)

// ApprovalStage is one role's decision point within an order's approval chain.
type ApprovalStage struct {
	Role      Role   `json:"role"`
	Status    string `json:"status"`
	ActorID   string `json:"actorId,omitempty"`
	Timestamp string `json:"timestamp,omitempty" format:"date-time"`
}

type OrderItem struct {
	ItemID    string  `json:"itemId,omitempty"`
	Name      string  `json:"name,omitempty"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unitPrice,omitempty"`
}

type Order struct {
	OrderID        string          `json:"orderId"`
	OrderType      OrderType       `json:"orderType,omitempty"`
	Title          string          `json:"title,omitempty"`
	ServiceID      string          `json:"serviceId,omitempty"`
	Status         string          `json:"status"`
	ViewerStatus   string          `json:"viewerStatus,omitempty"`
	RequestedBy    string          `json:"requestedBy,omitempty"`
	RequesterRole  Role            `json:"requesterRole,omitempty"`
	ApprovalStages []ApprovalStage `json:"approvalStages,omitempty"`
	Items          []OrderItem     `json:"items,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      string          `json:"createdAt,omitempty" format:"date-time"`
	UpdatedAt      string          `json:"updatedAt,omitempty" format:"date-time"`
}

// ScopeNode is a read-only relationship record supplied by the hub.
type ScopeNode struct {
	ID             string `json:"id"`
	Role           Role   `json:"role,omitempty"`
	Name           string `json:"name,omitempty"`
	Status         string `json:"status,omitempty"`
	ParentID       string `json:"parentId,omitempty"`
	ParentRole     Role   `json:"parentRole,omitempty"`
	ContractorID   string `json:"contractorId,omitempty"`
	CustomerID     string `json:"customerId,omitempty"`
	CenterID       string `json:"centerId,omitempty"`
	AssignedCenter string `json:"assignedCenter,omitempty"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
}

// Relationships holds the role-specific lists of a scope payload.
type Relationships struct {
	Manager     *ScopeNode  `json:"manager,omitempty"`
	Contractor  *ScopeNode  `json:"contractor,omitempty"`
	Customer    *ScopeNode  `json:"customer,omitempty"`
	Center      *ScopeNode  `json:"center,omitempty"`
	Contractors []ScopeNode `json:"contractors,omitempty"`
	Customers   []ScopeNode `json:"customers,omitempty"`
	Centers     []ScopeNode `json:"centers,omitempty"`
	Crew        []ScopeNode `json:"crew,omitempty"`
	Services    []ScopeNode `json:"services,omitempty"`
	Orders      []ScopeNode `json:"orders,omitempty"`
	Inventory   []ScopeNode `json:"inventory,omitempty"`
}

// Scope is the flat per-viewer payload of GET /hub/scope/{code}.
type Scope struct {
	Role          Role           `json:"role"`
	CksCode       string         `json:"cksCode"`
	Name          string         `json:"name,omitempty"`
	Summary       map[string]any `json:"summary,omitempty"`
	Relationships Relationships  `json:"relationships"`
}

// OrdersPayload is the body of GET /hub/orders/{code}.
type OrdersPayload struct {
	Role          Role    `json:"role"`
	CksCode       string  `json:"cksCode"`
	ServiceOrders []Order `json:"serviceOrders"`
	ProductOrders []Order `json:"productOrders"`
	Orders        []Order `json:"orders"`
}

// RawActivity is one heterogeneous event record before aggregation.
type RawActivity struct {
	ID        string         `json:"id"`
	Message   string         `json:"message,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Category  string         `json:"category,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ActivitiesPayload is the body of GET /hub/activities/{code}.
type ActivitiesPayload struct {
	Role       Role          `json:"role"`
	CksCode    string        `json:"cksCode"`
	Activities []RawActivity `json:"activities"`
}

// TombstoneSnapshot is the preserved state of a deleted entity.
type TombstoneSnapshot struct {
	EntityType     string          `json:"entityType,omitempty"`
	EntityID       string          `json:"entityId,omitempty"`
	Snapshot       json.RawMessage `json:"snapshot"`
	DeletedAt      string          `json:"deletedAt,omitempty"`
	DeletedBy      string          `json:"deletedBy,omitempty"`
	DeletionReason string          `json:"deletionReason,omitempty"`
}

// Viewer identifies who is looking at a projection.
type Viewer struct {
	Role Role   `json:"role"`
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
}

// JournalEntry is a locally recorded action request outcome.
type JournalEntry struct {
	ID        string `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	OrderID   string `json:"order_id"`
	Action    string `json:"action"`
	ActorRole Role   `json:"actor_role"`
	ActorCode string `json:"actor_code"`
	Outcome   string `json:"outcome" enum:"applied,rejected,failed"`
	ErrorKind string `json:"error_kind,omitempty"`
	Payload   string `json:"payload_json,omitempty"`
}

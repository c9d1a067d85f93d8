package auth

// Action is a capability checked before an operation runs.
type Action string

const (
	ActionManageCart        Action = "cart:manage"
	ActionCheckout          Action = "order:checkout"
	ActionViewOrders        Action = "order:view"
	ActionCancelOrder       Action = "order:cancel"
	ActionUpdateOrderStatus Action = "order:update-status"
	ActionValidateDiscount  Action = "discount:validate"
	ActionManageDiscounts   Action = "discount:manage"
)

// Policy decides which actions a role may perform. Object-level rules
// (ownership, seller relation) are enforced by the owning service.
type Policy interface {
	Allows(a Action) bool
}

type capabilities map[Action]struct{}

func (c capabilities) Allows(a Action) bool {
	_, ok := c[a]
	return ok
}

func newCapabilities(actions ...Action) capabilities {
	c := make(capabilities, len(actions))
	for _, a := range actions {
		c[a] = struct{}{}
	}
	return c
}

// allowAll grants every action.
type allowAll struct{}

func (allowAll) Allows(Action) bool { return true }

// denyAll is used for unknown roles.
type denyAll struct{}

func (denyAll) Allows(Action) bool { return false }

var policies = map[Role]Policy{
	RoleCustomer: newCapabilities(
		ActionManageCart,
		ActionCheckout,
		ActionViewOrders,
		ActionCancelOrder,
		ActionValidateDiscount,
	),
	RoleSeller: newCapabilities(
		ActionManageCart,
		ActionCheckout,
		ActionViewOrders,
		ActionCancelOrder,
		ActionUpdateOrderStatus,
		ActionValidateDiscount,
	),
	RoleAdmin: allowAll{},
}

// PolicyFor returns the policy of a role.
func PolicyFor(r Role) Policy {
	if p, ok := policies[r]; ok {
		return p
	}
	return denyAll{}
}

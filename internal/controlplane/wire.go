package controlplane

// Connect procedure names. Messages travel as JSON through
// connectutil.JSONCodec.
const (
	ServiceName = "labs.controlplane.v1.ControlPlaneService"

	ProvisionProcedure   = "/" + ServiceName + "/Provision"
	DeprovisionProcedure = "/" + ServiceName + "/Deprovision"
	AccountsProcedure    = "/" + ServiceName + "/Accounts"
)

type ProvisionCall struct {
	EnvironmentID int    `json:"environment_id"`
	Owner         string `json:"owner,omitempty"`
}

type ProvisionReply struct {
	Success           bool   `json:"success"`
	ContainerIdentity string `json:"container_identity,omitempty"`
	LeasedAddress     string `json:"leased_address,omitempty"`
	Error             string `json:"error,omitempty"`
}

type DeprovisionCall struct {
	ContainerIdentity string `json:"container_identity"`
}

type DeprovisionReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type AccountsCall struct {
	ContainerIdentity string `json:"container_identity"`
}

type AccountsReply struct {
	Success       bool      `json:"success"`
	ContainerName string    `json:"container_name,omitempty"`
	Accounts      []Account `json:"accounts,omitempty"`
	Error         string    `json:"error,omitempty"`
}

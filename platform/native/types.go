package native

// ProtocolVersion is sent with initialize
const ProtocolVersion = 1

// Helper protocol methods
const (
	MethodInitialize          = "initialize"
	MethodIsGranted           = "isGranted"
	MethodShouldShowRationale = "shouldShowRequestPermissionRationale"
	MethodRequestPermissions  = "requestPermissions"
	MethodOpenSettings        = "openSettings"
	MethodPlatformVersion     = "getPlatformVersion"

	// MethodPermissionsResult is the helper's notification carrying a grant answer
	MethodPermissionsResult = "onRequestPermissionsResult"
)

// InitializeParams for initialize request
type InitializeParams struct {
	ProtocolVersion int    `json:"protocolVersion"`
	PackageName     string `json:"packageName,omitempty"`
}

// InitializeResult from initialize response
type InitializeResult struct {
	ProtocolVersion int    `json:"protocolVersion"`
	Platform        string `json:"platform"`
}

// PermissionParams names one platform permission
type PermissionParams struct {
	Permission string `json:"permission"`
}

// GrantedResult from isGranted
type GrantedResult struct {
	Granted bool `json:"granted"`
}

// RationaleResult from shouldShowRequestPermissionRationale
type RationaleResult struct {
	Show bool `json:"show"`
}

// RequestParams for requestPermissions
type RequestParams struct {
	Permissions []string `json:"permissions"`
	RequestCode int      `json:"requestCode"`
}

// ResultParams of onRequestPermissionsResult. Empty arrays mean the user
// dismissed the request.
type ResultParams struct {
	RequestCode  int      `json:"requestCode"`
	Permissions  []string `json:"permissions"`
	GrantResults []int    `json:"grantResults"`
}

// SettingsParams for openSettings
type SettingsParams struct {
	PackageName string `json:"packageName,omitempty"`
}

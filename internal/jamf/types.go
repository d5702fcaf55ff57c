package jamf

// Credentials authenticate one report build. They are passed per call and
// never stored on the client. BaseURL is optional and overrides the
// client's configured backend address.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	BaseURL  string `json:"url"`
}

// Token is a bearer token issued by the auth endpoint. It remembers the
// backend that issued it so token-only calls need nothing else.
type Token struct {
	Value   string
	BaseURL string
}

// DeviceDetail holds the fields of one computer record used by the report.
type DeviceDetail struct {
	ID        uint64
	Name      string
	Model     string
	OSName    string
	OSVersion string
}

// UpdateCatalog lists the OS versions offered as updates, in backend order.
type UpdateCatalog []string

type tokenResponse struct {
	Token string `json:"token"`
}

type computersResponse struct {
	Computers *[]computerSummary `json:"computers"`
}

type computerSummary struct {
	ID uint64 `json:"id"`
}

type computerResponse struct {
	Computer *computerDetail `json:"computer"`
}

type computerDetail struct {
	General struct {
		ID   uint64 `json:"id"`
		Name string `json:"name"`
	} `json:"general"`
	Hardware struct {
		Model     string `json:"model"`
		OSName    string `json:"os_name"`
		OSVersion string `json:"os_version"`
	} `json:"hardware"`
}

type availableUpdatesResponse struct {
	AvailableUpdates *[]string `json:"availableUpdates"`
}

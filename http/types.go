package http

// ReloadRequest is the request body for POST /memmgr/reload. An empty
// Zone reloads every zone of the data source; an empty Class means IN.
type ReloadRequest struct {
	Class      string `json:"class"`
	DataSource string `json:"datasrc" binding:"required"`
	Zone       string `json:"zone"`
}

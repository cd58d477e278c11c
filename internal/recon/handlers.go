package recon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/relayscan/internal/targets"
	"github.com/HerbHall/relayscan/pkg/models"
	"go.uber.org/zap"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an RFC 7807 problem detail response.
func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.NewProblem(status, detail, ""))
}

// statusFor maps the error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrNoTargets):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrScanInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeStoreError writes err as a problem, hiding internal detail for 5xx.
func (m *Module) writeStoreError(w http.ResponseWriter, err error, what string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		m.logger.Error(what, zap.Error(err))
		writeError(w, status, what)
		return
	}
	writeError(w, status, err.Error())
}

// ScanBody is the request body for POST /scan.
type ScanBody struct {
	CustomerID  string             `json:"customer_id" example:"cust-01"`
	Subnet      string             `json:"subnet,omitempty" example:"192.168.1.0/24"`
	IPList      []string           `json:"ip_list,omitempty"`
	Credentials models.Credentials `json:"credentials"`
	Concurrency int                `json:"concurrency,omitempty" example:"20"`
	TimeoutMs   int                `json:"timeout_ms,omitempty" example:"3500"`
}

// handleScan runs a scan and returns its outcome.
//
//	@Summary		Run scan
//	@Description	Probe a subnet and/or IP list for a customer and reconcile the results. Blocks until the scan completes. An empty target spec uses the customer's stored subnet.
//	@Tags			recon
//	@Accept			json
//	@Produce		json
//	@Param			request	body		ScanBody	true	"Scan request"
//	@Success		200		{object}	ScanOutcome
//	@Failure		400		{object}	models.APIProblem
//	@Failure		404		{object}	models.APIProblem
//	@Failure		409		{object}	models.APIProblem
//	@Failure		500		{object}	models.APIProblem
//	@Router			/recon/scan [post]
func (m *Module) handleScan(w http.ResponseWriter, r *http.Request) {
	var body ScanBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.CustomerID) == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}
	if body.TimeoutMs < 0 {
		writeError(w, http.StatusBadRequest, "timeout_ms must not be negative")
		return
	}

	outcome, err := m.Scan(r.Context(), ScanRequest{
		CustomerID:  body.CustomerID,
		Subnet:      body.Subnet,
		IPList:      body.IPList,
		Credentials: body.Credentials,
		Concurrency: body.Concurrency,
		Timeout:     time.Duration(body.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		m.writeStoreError(w, err, "scan failed")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// handleListScans returns recent scan runs.
//
//	@Summary		List scans
//	@Description	Scan runs, newest first, optionally for one customer.
//	@Tags			recon
//	@Produce		json
//	@Param			customer_id	query		string	false	"Customer ID"
//	@Param			limit		query		int		false	"Max results"	default(50)
//	@Param			offset		query		int		false	"Offset"		default(0)
//	@Success		200			{array}		models.ScanRun
//	@Failure		500			{object}	models.APIProblem
//	@Router			/recon/scans [get]
func (m *Module) handleListScans(w http.ResponseWriter, r *http.Request) {
	runs, err := m.store.ListScanRuns(r.Context(),
		r.URL.Query().Get("customer_id"),
		queryInt(r, "limit", 50),
		queryInt(r, "offset", 0),
	)
	if err != nil {
		m.writeStoreError(w, err, "failed to list scans")
		return
	}
	if runs == nil {
		runs = []models.ScanRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleGetScan returns one scan run.
//
//	@Summary		Get scan
//	@Tags			recon
//	@Produce		json
//	@Param			id	path		string	true	"Scan run ID"
//	@Success		200	{object}	models.ScanRun
//	@Failure		404	{object}	models.APIProblem
//	@Router			/recon/scans/{id} [get]
func (m *Module) handleGetScan(w http.ResponseWriter, r *http.Request) {
	run, err := m.store.GetScanRun(r.Context(), r.PathValue("id"))
	if err != nil {
		m.writeStoreError(w, err, "failed to get scan")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleScanSnapshots returns the snapshots written by one scan run.
//
//	@Summary		Scan snapshots
//	@Tags			recon
//	@Produce		json
//	@Param			id	path		string	true	"Scan run ID"
//	@Success		200	{array}		models.Snapshot
//	@Failure		404	{object}	models.APIProblem
//	@Router			/recon/scans/{id}/snapshots [get]
func (m *Module) handleScanSnapshots(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := m.store.GetScanRun(r.Context(), id); err != nil {
		m.writeStoreError(w, err, "failed to get scan")
		return
	}
	snaps, err := m.store.ListSnapshots(r.Context(), id)
	if err != nil {
		m.writeStoreError(w, err, "failed to list snapshots")
		return
	}
	if snaps == nil {
		snaps = []models.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// handleDeleteScan removes a scan run and its snapshots.
//
//	@Summary		Delete scan
//	@Tags			recon
//	@Param			id	path	string	true	"Scan run ID"
//	@Success		204
//	@Failure		404	{object}	models.APIProblem
//	@Router			/recon/scans/{id} [delete]
func (m *Module) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	if err := m.store.DeleteScanRun(r.Context(), r.PathValue("id")); err != nil {
		m.writeStoreError(w, err, "failed to delete scan")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListDevices returns a customer's devices.
//
//	@Summary		List devices
//	@Tags			recon
//	@Produce		json
//	@Param			customer_id	query		string	true	"Customer ID"
//	@Success		200			{array}		models.Device
//	@Failure		400			{object}	models.APIProblem
//	@Router			/recon/devices [get]
func (m *Module) handleListDevices(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}
	devices, err := m.store.ListDevices(r.Context(), customerID)
	if err != nil {
		m.writeStoreError(w, err, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// handleGetDevice returns one device.
//
//	@Summary		Get device
//	@Tags			recon
//	@Produce		json
//	@Param			id	path		string	true	"Device ID"
//	@Success		200	{object}	models.Device
//	@Failure		404	{object}	models.APIProblem
//	@Router			/recon/devices/{id} [get]
func (m *Module) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := m.store.GetDevice(r.Context(), r.PathValue("id"))
	if err != nil {
		m.writeStoreError(w, err, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleDeviceHistory returns a device's snapshots, newest first.
//
//	@Summary		Device history
//	@Tags			recon
//	@Produce		json
//	@Param			id		path		string	true	"Device ID"
//	@Param			limit	query		int		false	"Max results"	default(50)
//	@Success		200		{array}		models.Snapshot
//	@Failure		404		{object}	models.APIProblem
//	@Router			/recon/devices/{id}/history [get]
func (m *Module) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := m.store.GetDevice(r.Context(), id); err != nil {
		m.writeStoreError(w, err, "failed to get device")
		return
	}
	snaps, err := m.store.DeviceHistory(r.Context(), id, queryInt(r, "limit", 50))
	if err != nil {
		m.writeStoreError(w, err, "failed to load device history")
		return
	}
	if snaps == nil {
		snaps = []models.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// handleDeleteDevice forgets a device. Its snapshots remain in scan history.
//
//	@Summary		Delete device
//	@Tags			recon
//	@Param			id	path	string	true	"Device ID"
//	@Success		204
//	@Failure		404	{object}	models.APIProblem
//	@Router			/recon/devices/{id} [delete]
func (m *Module) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := m.store.DeleteDevice(r.Context(), id); err != nil {
		m.writeStoreError(w, err, "failed to delete device")
		return
	}
	m.publishEvent(r.Context(), TopicDeviceDeleted, map[string]string{"device_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// CustomerBody is the request body for creating or updating a customer.
// DeviceCredentials replaces the stored credentials when set; an empty
// username and password pair clears them.
type CustomerBody struct {
	Name              string              `json:"name" example:"Harbor Cafe"`
	Description       string              `json:"description,omitempty"`
	Subnet            string              `json:"subnet,omitempty" example:"192.168.1.0/24"`
	Contact           string              `json:"contact,omitempty"`
	WifiSSID          string              `json:"wifi_ssid,omitempty"`
	DeviceCredentials *models.Credentials `json:"device_credentials,omitempty"`
}

func (b *CustomerBody) validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return errors.New("name is required")
	}
	b.Subnet = strings.TrimSpace(b.Subnet)
	if b.Subnet != "" {
		if _, _, err := targets.Network(b.Subnet); err != nil {
			return err
		}
	}
	return nil
}

// handleListCustomers returns all customers.
//
//	@Summary		List customers
//	@Tags			recon
//	@Produce		json
//	@Success		200	{array}		models.Customer
//	@Failure		500	{object}	models.APIProblem
//	@Router			/recon/customers [get]
func (m *Module) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := m.store.ListCustomers(r.Context())
	if err != nil {
		m.writeStoreError(w, err, "failed to list customers")
		return
	}
	if customers == nil {
		customers = []models.Customer{}
	}
	for i := range customers {
		customers[i].HasSecrets = m.hasCredentials(r.Context(), customers[i].ID)
	}
	writeJSON(w, http.StatusOK, customers)
}

// handleCreateCustomer creates a customer.
//
//	@Summary		Create customer
//	@Tags			recon
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CustomerBody	true	"Customer"
//	@Success		201		{object}	models.Customer
//	@Failure		400		{object}	models.APIProblem
//	@Failure		503		{object}	models.APIProblem
//	@Router			/recon/customers [post]
func (m *Module) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var body CustomerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c := &models.Customer{
		Name:        strings.TrimSpace(body.Name),
		Description: body.Description,
		Subnet:      body.Subnet,
		Contact:     body.Contact,
		WifiSSID:    body.WifiSSID,
	}
	if err := m.store.CreateCustomer(r.Context(), c); err != nil {
		m.writeStoreError(w, err, "failed to create customer")
		return
	}
	if !m.applyCredentials(w, r, c.ID, body.DeviceCredentials) {
		return
	}
	c.HasSecrets = m.hasCredentials(r.Context(), c.ID)
	m.publishEvent(r.Context(), TopicCustomerChanged, CustomerChangedEvent{CustomerID: c.ID, Action: "created"})
	writeJSON(w, http.StatusCreated, c)
}

// handleGetCustomer returns one customer.
//
//	@Summary		Get customer
//	@Tags			recon
//	@Produce		json
//	@Param			id	path		string	true	"Customer ID"
//	@Success		200	{object}	models.Customer
//	@Failure		404	{object}	models.APIProblem
//	@Router			/recon/customers/{id} [get]
func (m *Module) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := m.store.GetCustomer(r.Context(), r.PathValue("id"))
	if err != nil {
		m.writeStoreError(w, err, "failed to get customer")
		return
	}
	c.HasSecrets = m.hasCredentials(r.Context(), c.ID)
	writeJSON(w, http.StatusOK, c)
}

// handleUpdateCustomer replaces a customer's editable fields.
//
//	@Summary		Update customer
//	@Tags			recon
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Customer ID"
//	@Param			request	body		CustomerBody	true	"Customer"
//	@Success		200		{object}	models.Customer
//	@Failure		400		{object}	models.APIProblem
//	@Failure		404		{object}	models.APIProblem
//	@Router			/recon/customers/{id} [put]
func (m *Module) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var body CustomerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := m.store.GetCustomer(r.Context(), r.PathValue("id"))
	if err != nil {
		m.writeStoreError(w, err, "failed to get customer")
		return
	}
	c.Name = strings.TrimSpace(body.Name)
	c.Description = body.Description
	c.Subnet = body.Subnet
	c.Contact = body.Contact
	c.WifiSSID = body.WifiSSID
	if err := m.store.UpdateCustomer(r.Context(), c); err != nil {
		m.writeStoreError(w, err, "failed to update customer")
		return
	}
	if !m.applyCredentials(w, r, c.ID, body.DeviceCredentials) {
		return
	}
	c.HasSecrets = m.hasCredentials(r.Context(), c.ID)
	m.publishEvent(r.Context(), TopicCustomerChanged, CustomerChangedEvent{CustomerID: c.ID, Action: "updated"})
	writeJSON(w, http.StatusOK, c)
}

// handleDeleteCustomer removes a customer with its devices, scans and
// stored credentials.
//
//	@Summary		Delete customer
//	@Tags			recon
//	@Param			id	path	string	true	"Customer ID"
//	@Success		204
//	@Failure		404	{object}	models.APIProblem
//	@Router			/recon/customers/{id} [delete]
func (m *Module) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := m.store.DeleteCustomer(r.Context(), id); err != nil {
		m.writeStoreError(w, err, "failed to delete customer")
		return
	}
	if m.creds != nil {
		if err := m.creds.DeleteCredentials(r.Context(), id); err != nil {
			m.logger.Warn("failed to delete customer credentials",
				zap.String("customer_id", id),
				zap.Error(err),
			)
		}
	}
	m.publishEvent(r.Context(), TopicCustomerChanged, CustomerChangedEvent{CustomerID: id, Action: "deleted"})
	w.WriteHeader(http.StatusNoContent)
}

// applyCredentials stores or clears a customer's device credentials. It
// writes the error response and returns false on failure.
func (m *Module) applyCredentials(w http.ResponseWriter, r *http.Request, customerID string, c *models.Credentials) bool {
	if c == nil {
		return true
	}
	if m.creds == nil {
		writeError(w, http.StatusServiceUnavailable, "credential storage is not available")
		return false
	}
	var err error
	if c.Username == "" && c.Password == "" {
		err = m.creds.DeleteCredentials(r.Context(), customerID)
	} else {
		err = m.creds.PutCredentials(r.Context(), customerID, *c)
	}
	if err != nil {
		m.logger.Warn("failed to store customer credentials",
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		writeError(w, http.StatusServiceUnavailable, "failed to store device credentials: "+err.Error())
		return false
	}
	return true
}

func (m *Module) hasCredentials(ctx context.Context, customerID string) bool {
	if m.creds == nil {
		return false
	}
	ok, err := m.creds.HasCredentials(ctx, customerID)
	return err == nil && ok
}

// AutoScanUpdate is the request body for PUT /autoscan. Absent fields are
// left unchanged.
type AutoScanUpdate struct {
	Enabled    *bool  `json:"enabled,omitempty" example:"true"`
	IntervalMs *int64 `json:"interval_ms,omitempty" example:"60000"`
}

// handleGetAutoScan returns the auto-scanner status.
//
//	@Summary		Auto-scan status
//	@Tags			recon
//	@Produce		json
//	@Success		200	{object}	AutoScanStatus
//	@Router			/recon/autoscan [get]
func (m *Module) handleGetAutoScan(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.scheduler.Status())
}

// handleUpdateAutoScan changes the auto-scanner preferences.
//
//	@Summary		Update auto-scan
//	@Description	Enable or disable periodic rescans of every customer with a subnet, or change the interval. Enabling triggers a pass immediately.
//	@Tags			recon
//	@Accept			json
//	@Produce		json
//	@Param			request	body		AutoScanUpdate	true	"Preferences"
//	@Success		200		{object}	AutoScanStatus
//	@Failure		400		{object}	models.APIProblem
//	@Failure		500		{object}	models.APIProblem
//	@Router			/recon/autoscan [put]
func (m *Module) handleUpdateAutoScan(w http.ResponseWriter, r *http.Request) {
	var body AutoScanUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ctx := r.Context()
	if body.IntervalMs != nil {
		if _, err := m.scheduler.SetInterval(ctx, time.Duration(*body.IntervalMs)*time.Millisecond); err != nil {
			m.writeStoreError(w, err, "failed to save auto-scan interval")
			return
		}
	}
	if body.Enabled != nil {
		if _, err := m.scheduler.SetEnabled(ctx, *body.Enabled); err != nil {
			m.writeStoreError(w, err, "failed to save auto-scan preference")
			return
		}
	}
	writeJSON(w, http.StatusOK, m.scheduler.Status())
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}

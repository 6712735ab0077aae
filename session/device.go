// Package session owns the account identity, device descriptor, protocol
// profile, ticket store and sequence counter shared by the encoder,
// decoder, dispatcher and supervisor. See spec.md §3/§4.3.
package session

// Device is the fixed descriptor embedded in request headers. It is
// immutable after construction.
type Device struct {
	// AndroidID must be exactly 16 ASCII characters.
	AndroidID string
	// Qimei must be 36 hex characters.
	Qimei       string
	Name        string
	Brand       string
	Model       string
	OSName      string
	OSVersion   string
	VendorOS    string
	Fingerprint []byte
}

// NewDevice constructs a Device, copying fingerprint so later mutation of
// the caller's slice cannot affect this immutable value.
func NewDevice(androidID, qimei, name, brand, model, osName, osVersion, vendorOS string, fingerprint []byte) Device {
	fp := make([]byte, len(fingerprint))
	copy(fp, fingerprint)
	return Device{
		AndroidID:   androidID,
		Qimei:       qimei,
		Name:        name,
		Brand:       brand,
		Model:       model,
		OSName:      osName,
		OSVersion:   osVersion,
		VendorOS:    vendorOS,
		Fingerprint: fp,
	}
}

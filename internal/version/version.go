// ABOUTME: Version information for pcmpump
// ABOUTME: Product identity announced to stream servers in device info
package version

const (
	// Version is the software version
	Version = "0.3.0"

	// Product is the product name
	Product = "pcmpump"

	// Manufacturer identifies the maker
	Manufacturer = "Sendspin"
)

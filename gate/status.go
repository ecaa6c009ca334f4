package gate

var statusNames = map[int]string{
	1: "Pending",
	2: "Processing",
	3: "Cancelled",
	4: "Completed",
	5: "On hold",
	6: "Refunded",
	7: "Failed",
}

// StatusName returns the display name of a booking status id.
func StatusName(statusID int) string {
	if name, ok := statusNames[statusID]; ok {
		return name
	}
	return "Unknown"
}

package lifecycle

import "github.com/jogardn/pharmacy-portal/pkg/models"

// Presentation is the human-facing rendering of an order status.
type Presentation struct {
	Label string `json:"label"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

var presentations = map[models.Status]Presentation{
	models.StatusPlaced:    {Label: "Order placed", Color: "blue", Icon: "clock"},
	models.StatusReady:     {Label: "Ready for pickup", Color: "amber", Icon: "package"},
	models.StatusComplete:  {Label: "Completed", Color: "green", Icon: "check-circle"},
	models.StatusCancelled: {Label: "Cancelled", Color: "red", Icon: "x-circle"},
}

// Pharmacy proposals reuse the stored statuses with a different meaning.
var pharmacyPresentations = map[models.Status]Presentation{
	models.StatusPlaced:    {Label: "Awaiting patient", Color: "purple", Icon: "hourglass"},
	models.StatusCancelled: {Label: "Rejected", Color: "gray", Icon: "ban"},
}

func Present(status models.Status, initiator models.InitiatorType) Presentation {
	if initiator == models.InitiatorPharmacy {
		if p, ok := pharmacyPresentations[status]; ok {
			return p
		}
	}
	if p, ok := presentations[status]; ok {
		return p
	}
	return Presentation{Label: string(status), Color: "gray", Icon: "help-circle"}
}

func DisplayText(status models.Status, initiator models.InitiatorType) string {
	return Present(status, initiator).Label
}

package relay

import (
	"context"
	"fmt"

	"github.com/rajashekarcs2023/weather-marketplace/config"
	"github.com/rajashekarcs2023/weather-marketplace/directory"
	"github.com/rajashekarcs2023/weather-marketplace/identity"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// Registrar registers agents with a directory.
type Registrar interface {
	Register(ctx context.Context, reg directory.Registration) (*directory.AgentRecord, error)
}

// AgentCapability describes a weather agent.
func AgentCapability(cfg config.AgentConfig) *directory.Capability {
	return &directory.Capability{
		Description:        cfg.Description,
		UseCases:           cfg.UseCases,
		PayloadDescription: "Requirements for weather requests",
		Parameters: []directory.Parameter{
			{Name: types.KeyLocation, Description: "The city or location to get weather for"},
		},
		Pricing: &directory.Pricing{Price: cfg.Price, Currency: cfg.Currency, PerRequest: true},
	}
}

// ClientCapability describes the frontend client.
func ClientCapability(cfg config.ClientConfig) *directory.Capability {
	return &directory.Capability{
		Description:        cfg.Description,
		UseCases:           []string{"Receive and display weather reports"},
		PayloadDescription: "Expects weather information responses",
		Parameters: []directory.Parameter{
			{Name: types.KeyLocation, Description: "The location of the weather report"},
		},
	}
}

// Register validates capability, renders its readme and registers id under
// name with its webhook URL.
func Register(ctx context.Context, dir Registrar, id *identity.Identity, name, webhookURL string, capability *directory.Capability) (*directory.AgentRecord, error) {
	if err := capability.Validate(); err != nil {
		return nil, types.NewInvalidRequestError(fmt.Sprintf("invalid capability: %v", err)).WithCause(err)
	}
	readme, err := capability.Readme()
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "render readme").WithCause(err)
	}
	return dir.Register(ctx, directory.Registration{
		Address:    id.Address(),
		Name:       name,
		URL:        webhookURL,
		Readme:     readme,
		Capability: capability,
		Proof:      directory.SignProof(id, webhookURL),
	})
}

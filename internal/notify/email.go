package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/events"
	"github.com/technoprod/backend-gestion/internal/store"
)

// EmailNotifier turns outbox events into notification emails. Recipients come
// from the event payload ("client_email") with DefaultRecipient as fallback;
// events with no resolvable recipient are skipped.
type EmailNotifier struct {
	Sender           common.EmailSender
	DefaultRecipient string
	Toggles          map[string]bool
	Log              zerolog.Logger
}

// Handle implements the relay handler contract.
func (n *EmailNotifier) Handle(ctx context.Context, event store.Event) error {
	if n == nil || n.Sender == nil {
		return nil
	}
	if enabled, ok := n.Toggles[event.Type]; ok && !enabled {
		return nil
	}
	recipient := n.recipient(event)
	if recipient == "" {
		n.Log.Debug().Str("event_type", event.Type).Msg("email notification skipped, no recipient")
		return nil
	}
	subject, body := renderEmail(event)
	if subject == "" {
		return nil
	}
	if err := n.Sender.Send(recipient, subject, body); err != nil {
		return fmt.Errorf("send %s notification: %w", event.Type, err)
	}
	return nil
}

func (n *EmailNotifier) recipient(event store.Event) string {
	var payload struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(event.Payload, &payload); err == nil && payload.ClientEmail != "" {
		return payload.ClientEmail
	}
	return n.DefaultRecipient
}

type eventFields struct {
	Numero         string `json:"numero"`
	DevisNumero    string `json:"devis_numero"`
	CommandeNumero string `json:"commande_numero"`
	FactureNumero  string `json:"facture_numero"`
}

func renderEmail(event store.Event) (subject, body string) {
	var f eventFields
	_ = json.Unmarshal(event.Payload, &f)
	switch event.Type {
	case events.TopicDevisEnvoye:
		return fmt.Sprintf("Devis %s envoyé", f.Numero),
			fmt.Sprintf("<p>Le devis <strong>%s</strong> a été envoyé au client.</p>", f.Numero)
	case events.TopicDevisSigne:
		return fmt.Sprintf("Devis %s signé", f.Numero),
			fmt.Sprintf("<p>Le devis <strong>%s</strong> a été signé.</p>", f.Numero)
	case events.TopicDevisRefuse:
		return fmt.Sprintf("Devis %s refusé", f.Numero),
			fmt.Sprintf("<p>Le devis <strong>%s</strong> a été refusé par le client.</p>", f.Numero)
	case events.TopicDevisAcompteRegle:
		return fmt.Sprintf("Acompte réglé sur le devis %s", f.Numero),
			fmt.Sprintf("<p>L'acompte du devis <strong>%s</strong> a été réglé.</p>", f.Numero)
	case events.TopicDevisConverti:
		return fmt.Sprintf("Devis %s converti en commande", f.DevisNumero),
			fmt.Sprintf("<p>Le devis <strong>%s</strong> a été converti en commande <strong>%s</strong>.</p>",
				f.DevisNumero, f.CommandeNumero)
	case events.TopicCommandeFacturee:
		return fmt.Sprintf("Commande %s facturée", f.CommandeNumero),
			fmt.Sprintf("<p>La commande <strong>%s</strong> a été facturée (facture <strong>%s</strong>).</p>",
				f.CommandeNumero, f.FactureNumero)
	}
	return "", ""
}

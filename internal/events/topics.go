package events

// Event types written to the outbox by the domain services.
const (
	TopicDevisEnvoye       = "devis.envoye"
	TopicDevisSigne        = "devis.signe"
	TopicDevisRefuse       = "devis.refuse"
	TopicDevisAcompteRegle = "devis.acompte_regle"
	TopicDevisConverti     = "devis.converti_commande"
	TopicCommandeFacturee  = "commande.facturee"
)

// DefaultTopics returns the canonical list of event types a webhook endpoint
// can subscribe to.
func DefaultTopics() []string {
	return []string{
		TopicDevisEnvoye,
		TopicDevisSigne,
		TopicDevisRefuse,
		TopicDevisAcompteRegle,
		TopicDevisConverti,
		TopicCommandeFacturee,
	}
}

// ValidTopic reports whether the given event type is known.
func ValidTopic(topic string) bool {
	for _, t := range DefaultTopics() {
		if t == topic {
			return true
		}
	}
	return false
}

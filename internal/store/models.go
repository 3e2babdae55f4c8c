package store

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// Ligne kinds. A devis carries one ordered list of lignes mixing priced
// product rows and unpriced layout rows.
const (
	LigneKindProduit      = "produit"
	LigneKindTitreSection = "titre_section"
	LigneKindSousTotal    = "sous_total"
)

// Devis statuses.
const (
	DevisStatusBrouillon    = "brouillon"
	DevisStatusEnvoye       = "envoye"
	DevisStatusSigne        = "signe"
	DevisStatusRefuse       = "refuse"
	DevisStatusAcompteRegle = "acompte_regle"
)

// Client kinds.
const (
	ClientKindClient   = "client"
	ClientKindProspect = "prospect"
)

type Societe struct {
	ID        pgtype.UUID
	Slug      string
	Nom       string
	CreatedAt pgtype.Timestamptz
	UpdatedAt pgtype.Timestamptz
}

type User struct {
	ID           pgtype.UUID
	SocieteID    pgtype.UUID
	Email        string
	PasswordHash string
	Nom          pgtype.Text
	Role         string
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

type Session struct {
	ID               pgtype.UUID
	UserID           pgtype.UUID
	RefreshTokenHash string
	ExpiresAt        pgtype.Timestamptz
	RevokedAt        pgtype.Timestamptz
	CreatedAt        pgtype.Timestamptz
}

type PasswordReset struct {
	ID        pgtype.UUID
	UserID    pgtype.UUID
	TokenHash string
	ExpiresAt pgtype.Timestamptz
	UsedAt    pgtype.Timestamptz
	CreatedAt pgtype.Timestamptz
}

type Client struct {
	ID                 pgtype.UUID
	SocieteID          pgtype.UUID
	Kind               string
	RaisonSociale      string
	ContactNom         pgtype.Text
	Email              pgtype.Text
	Telephone          pgtype.Text
	Adresse            pgtype.Text
	CodePostal         pgtype.Text
	Ville              pgtype.Text
	Pays               pgtype.Text
	ConsentEmail       bool
	ConsentEmailAt     pgtype.Timestamptz
	ConsentTelephone   bool
	ConsentTelephoneAt pgtype.Timestamptz
	CreatedAt          pgtype.Timestamptz
	UpdatedAt          pgtype.Timestamptz
}

type Produit struct {
	ID           pgtype.UUID
	SocieteID    pgtype.UUID
	Reference    string
	Designation  string
	Description  pgtype.Text
	PrixUnitaire pgtype.Numeric
	TauxTVA      pgtype.Numeric
	Unite        pgtype.Text
	Actif        bool
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

type Devis struct {
	ID           pgtype.UUID
	SocieteID    pgtype.UUID
	ClientID     pgtype.UUID
	Numero       string
	Status       string
	Objet        pgtype.Text
	DateDevis    pgtype.Date
	DateValidite pgtype.Date
	TotalHT      pgtype.Numeric
	TotalTVA     pgtype.Numeric
	TotalTTC     pgtype.Numeric
	CommandeID   pgtype.UUID
	Version      int32
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

type DevisLigne struct {
	ID           pgtype.UUID
	DevisID      pgtype.UUID
	Kind         string
	Position     int32
	Designation  pgtype.Text
	Description  pgtype.Text
	Quantite     pgtype.Numeric
	PrixUnitaire pgtype.Numeric
	RemisePct    pgtype.Numeric
	TauxTVA      pgtype.Numeric
	TotalHT      pgtype.Numeric
	TotalTTC     pgtype.Numeric
	ProduitID    pgtype.UUID
	Params       []byte
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

type Commande struct {
	ID             pgtype.UUID
	SocieteID      pgtype.UUID
	ClientID       pgtype.UUID
	DevisID        pgtype.UUID
	Numero         string
	Status         string
	TotalHT        pgtype.Numeric
	TotalTVA       pgtype.Numeric
	TotalTTC       pgtype.Numeric
	LignesSnapshot []byte
	FactureID      pgtype.UUID
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}

type Facture struct {
	ID             pgtype.UUID
	SocieteID      pgtype.UUID
	ClientID       pgtype.UUID
	CommandeID     pgtype.UUID
	Numero         string
	Status         string
	TotalHT        pgtype.Numeric
	TotalTVA       pgtype.Numeric
	TotalTTC       pgtype.Numeric
	LignesSnapshot []byte
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}

// ReferentielEntry is one row of kind-discriminated back-office reference
// data (forme_juridique, mode_reglement, banque, taux_tva, transporteur,
// groupe_utilisateur).
type ReferentielEntry struct {
	ID        pgtype.UUID
	SocieteID pgtype.UUID
	Kind      string
	Code      string
	Libelle   string
	Valeur    pgtype.Text
	Actif     bool
	CreatedAt pgtype.Timestamptz
	UpdatedAt pgtype.Timestamptz
}

type Theme struct {
	SocieteID         pgtype.UUID
	CouleurPrimaire   string
	CouleurSecondaire string
	LogoURL           pgtype.Text
	Libelles          []byte
	UpdatedAt         pgtype.Timestamptz
}

// Event is an outbox row fanned out to webhook deliveries by the worker.
type Event struct {
	ID          pgtype.UUID
	SocieteID   pgtype.UUID
	Type        string
	AggregateID pgtype.UUID
	Payload     []byte
	PublishedAt pgtype.Timestamptz
	CreatedAt   pgtype.Timestamptz
}

type AuditEntry struct {
	ID        pgtype.UUID
	SocieteID pgtype.UUID
	ActorID   pgtype.UUID
	ActorType string
	Action    string
	Entity    string
	EntityID  pgtype.Text
	Detail    []byte
	CreatedAt pgtype.Timestamptz
}

type WebhookEndpoint struct {
	ID         pgtype.UUID
	SocieteID  pgtype.UUID
	URL        string
	Secret     string
	EventTypes []string
	Actif      bool
	CreatedAt  pgtype.Timestamptz
	UpdatedAt  pgtype.Timestamptz
}

type WebhookDelivery struct {
	ID          pgtype.UUID
	EndpointID  pgtype.UUID
	EventID     pgtype.UUID
	Status      string
	Attempts    int32
	LastError   pgtype.Text
	LastCode    pgtype.Int4
	NextRetryAt pgtype.Timestamptz
	DeliveredAt pgtype.Timestamptz
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

package pix

import (
	"fmt"
	"strings"

	"github.com/amirasaad/pixflow/pkg/domain"
)

// Gateway status vocabulary for Pix charges.
const (
	ExternalActive           = "ATIVA"
	ExternalConcluded        = "CONCLUIDA"
	ExternalRemovedByPayee   = "REMOVIDA_PELO_USUARIO_RECEBEDOR"
	ExternalRemovedByGateway = "REMOVIDA_PELO_PSP"
)

// Gateway status vocabulary for outgoing transfers.
const (
	ExternalTransferProcessing = "EM_PROCESSAMENTO"
	ExternalTransferDone       = "REALIZADO"
	ExternalTransferFailed     = "NAO_REALIZADO"
)

var transferStatuses = map[string]Status{
	ExternalTransferProcessing: StatusPending,
	ExternalTransferDone:       StatusPaid,
	ExternalTransferFailed:     StatusFailed,
}

var externalStatuses = map[string]Status{
	ExternalActive:           StatusPending,
	ExternalConcluded:        StatusPaid,
	ExternalRemovedByPayee:   StatusCancelled,
	ExternalRemovedByGateway: StatusFailed,

	// Aliases sent by relays that translate the gateway vocabulary.
	"CONCLUDED": StatusPaid,
	"PAID":      StatusPaid,
	"CANCELLED": StatusCancelled,
	"EXPIRED":   StatusExpired,
	"FAILED":    StatusFailed,
}

// ExternalStatus is a gateway status after mapping. Known is false when the
// gateway reported something outside the vocabulary; Status is then empty.
type ExternalStatus struct {
	Raw    string
	Status Status
	Known  bool
}

// MapExternalStatus classifies a raw gateway status.
func MapExternalStatus(raw string) ExternalStatus {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if s, ok := externalStatuses[normalized]; ok {
		return ExternalStatus{Raw: raw, Status: s, Known: true}
	}
	return ExternalStatus{Raw: raw}
}

// MapExternalStatusFor classifies a raw gateway status using the vocabulary
// of the given record type. Transfers fall back to the charge vocabulary so
// relay aliases keep working.
func MapExternalStatusFor(t Type, raw string) ExternalStatus {
	if t == TypeSend {
		normalized := strings.ToUpper(strings.TrimSpace(raw))
		if s, ok := transferStatuses[normalized]; ok {
			return ExternalStatus{Raw: raw, Status: s, Known: true}
		}
	}
	return MapExternalStatus(raw)
}

// ParseExternalStatusFor is ParseExternalStatus for records of type t.
func ParseExternalStatusFor(t Type, raw string) (Status, error) {
	es := MapExternalStatusFor(t, raw)
	if !es.Known {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownExternalStatus, raw)
	}
	return es.Status, nil
}

// ParseExternalStatus maps a raw gateway status to a local one or returns
// an error wrapping domain.ErrUnknownExternalStatus.
func ParseExternalStatus(raw string) (Status, error) {
	es := MapExternalStatus(raw)
	if !es.Known {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownExternalStatus, raw)
	}
	return es.Status, nil
}

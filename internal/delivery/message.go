package delivery

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/areopag-vote/backend/internal/models"
)

// BulletinURL is the one-time link a remote voter follows to request a
// private key. The public token requests issuance; it can never vote.
func BulletinURL(baseURL string, token uuid.UUID) string {
	return fmt.Sprintf("%s/get_bulletin/%s/", baseURL, token)
}

func subject(poll *models.Poll) string {
	return fmt.Sprintf("Dissertation (%s): voting", poll.Title)
}

func body(poll *models.Poll, voterName, baseURL string, token uuid.UUID) string {
	return fmt.Sprintf(`Hello, %s

To vote (%s. %s) follow the link:
%s

--
  Sincerely,
    the dissertation council robot
`, voterName, poll.Title, poll.Description, BulletinURL(baseURL, token))
}

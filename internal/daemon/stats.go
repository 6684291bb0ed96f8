// Stats (§6.3 Claims/Commits/Stats): claim/commit listing plus the usage
// summary the CLI's `status` surfaces. Usage accounting against an actual
// provider quota is out of scope; CommitCount is the one figure this daemon
// can report with certainty.
package daemon

import "github.com/karan-zipline/murmur/internal/protocol"

// ListClaims implements claim.list.
func (s *SharedState) ListClaims(project string) []protocol.ClaimInfo {
	claims := s.Claims.List(project)
	out := make([]protocol.ClaimInfo, len(claims))
	for i, c := range claims {
		out[i] = protocol.ClaimInfo{Project: c.Project, IssueID: c.IssueID, AgentID: c.AgentID}
	}
	return out
}

// Stats implements stats.
func (s *SharedState) Stats(project string) protocol.StatsResponse {
	return protocol.StatsResponse{CommitCount: len(s.ListCommits(project, 0))}
}

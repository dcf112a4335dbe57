package security

import (
	"testing"
)

func TestValidateRepoURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		// Valid cases
		{"scp-like ssh", "git@github.com:devom/monorepo.git", false},
		{"scp-like without .git", "git@github.com:devom/monorepo", false},
		{"ssh scheme", "ssh://git@github.com/devom/monorepo.git", false},
		{"https", "https://github.com/devom/monorepo.git", false},
		{"self-hosted https", "https://git.example.com/team/sub/repo.git", false},
		{"dots in repo", "git@github.com:user/repo.name.git", false},

		// Command injection attempts
		{"command injection semicolon", "git@github.com:user/repo.git; rm -rf /", true},
		{"command injection pipe", "https://github.com/user/repo.git|cat", true},
		{"command injection backtick", "git@github.com:user/repo`whoami`.git", true},
		{"command injection dollar", "https://github.com/user/repo$(whoami).git", true},
		{"option injection", "--upload-pack=touch /tmp/pwned", true},

		// Path traversal attempts
		{"path traversal scp", "git@github.com:../../etc/passwd", true},
		{"path traversal https", "https://github.com/user/../../../etc/passwd", true},

		// Invalid schemes and formats
		{"http instead of https", "http://github.com/user/repo.git", true},
		{"git protocol", "git://github.com/user/repo.git", true},
		{"file protocol", "file:///srv/repo.git", true},
		{"no protocol", "github.com/user/repo.git", true},
		{"empty url", "", true},
		{"spaces in url", "https://github.com/user /repo.git", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRepoURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRepoURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateBranchName(t *testing.T) {
	tests := []struct {
		name    string
		branch  string
		wantErr bool
	}{
		// Valid cases
		{"main branch", "main", false},
		{"master branch", "master", false},
		{"feature branch", "feature/new-feature", false},
		{"release branch", "release/v1.0.0", false},
		{"with underscores", "fix/my_feature_branch", false},
		{"upper case", "feature/ABC-123", false},

		// Invalid cases
		{"empty branch", "", true},
		{"starts with dash", "-malicious", true},
		{"double dot", "feature/../main", true},
		{"command injection semicolon", "main; rm -rf /", true},
		{"command injection pipe", "main | cat /etc/passwd", true},
		{"command injection backtick", "main`whoami`", true},
		{"command injection dollar", "main$(whoami)", true},
		{"special chars", "feature@evil", true},
		{"spaces", "my branch", true},
		{"newline", "main\nmalicious", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBranchName(tt.branch)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBranchName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateGitRef(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		wantErr bool
	}{
		{"plain branch", "feature/login", false},
		{"plus signs", "fix/c++", false},
		{"non-ascii", "feature/größe", false},
		{"at sign", "feature@v2", false},

		{"empty", "", true},
		{"starts with dash", "--upload-pack=evil", true},
		{"double dot", "feature/../main", true},
		{"reflog syntax", "main@{1}", true},
		{"space", "my branch", true},
		{"colon", "a:b", true},
		{"newline", "main\nmalicious", true},
		{"lock suffix", "feature.lock", true},
		{"trailing slash", "feature/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGitRef(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateGitRef(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
		})
	}
}

func TestValidateContainerName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"production", "production", false},
		{"branch preview", "preview-feature-login", false},
		{"pr preview", "preview-pr-42", false},
		{"empty", "", true},
		{"leading dash", "-preview", true},
		{"slash", "preview/feature", true},
		{"space", "preview feature", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContainerName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateContainerName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"absolute path", "/srv/deployhook/work", "/srv/deployhook/work", false},
		{"trailing slash cleaned", "/srv/deployhook/work/", "/srv/deployhook/work", false},
		{"dot segment cleaned", "/srv/./work", "/srv/work", false},
		{"relative path", "work", "", true},
		{"traversal", "/srv/../etc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizePath() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizePath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func BenchmarkValidateBranchName(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = ValidateBranchName("feature/new-feature-branch")
	}
}

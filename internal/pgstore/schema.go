package pgstore

// Schema is the PostgreSQL DDL for the persistence core. UpdatedAt is
// stamped by every UPDATE statement in this package rather than by a
// trigger, so the "storage stamps, caller cannot suppress" guarantee is the
// same one the other backends give.
//
// Challenges are indexed on (Challenger, Challenged); the historical schema
// referenced white/black columns here, which this table never had.
const Schema = `
CREATE TABLE IF NOT EXISTS Groups (
	GroupId BIGINT PRIMARY KEY,
	CreatedAt TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS Challenges (
	GroupId BIGINT NOT NULL REFERENCES Groups(GroupId) ON DELETE CASCADE,
	Challenger BIGINT NOT NULL,
	Challenged BIGINT NOT NULL,
	CreatedAt TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (GroupId, Challenger, Challenged)
);

CREATE INDEX IF NOT EXISTS idx_challenges_group ON Challenges(GroupId);
CREATE INDEX IF NOT EXISTS idx_challenges_players ON Challenges(Challenger, Challenged);

CREATE TABLE IF NOT EXISTS Games (
	GroupId BIGINT NOT NULL REFERENCES Groups(GroupId) ON DELETE CASCADE,
	WhiteId BIGINT NOT NULL,
	BlackId BIGINT NOT NULL,
	Board TEXT NOT NULL,
	Turn BOOLEAN NOT NULL DEFAULT TRUE,
	PawnMove TEXT CHECK (PawnMove IS NULL OR PawnMove ~ '^[a-h][1-8]$'),
	Draw BOOLEAN,
	Moved TEXT NOT NULL CHECK (char_length(Moved) = 6),
	WName TEXT NOT NULL DEFAULT '',
	BName TEXT NOT NULL DEFAULT '',
	CreatedAt TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UpdatedAt TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (GroupId, WhiteId, BlackId)
);

CREATE INDEX IF NOT EXISTS idx_games_group ON Games(GroupId);
CREATE INDEX IF NOT EXISTS idx_games_players ON Games(WhiteId, BlackId);
CREATE INDEX IF NOT EXISTS idx_games_black ON Games(BlackId);

CREATE TABLE IF NOT EXISTS FinishedGames (
	Id UUID PRIMARY KEY,
	GroupId BIGINT NOT NULL,
	WhiteId BIGINT NOT NULL,
	BlackId BIGINT NOT NULL,
	WName TEXT NOT NULL DEFAULT '',
	BName TEXT NOT NULL DEFAULT '',
	Board TEXT NOT NULL DEFAULT '',
	Result TEXT NOT NULL,
	Method TEXT NOT NULL DEFAULT '',
	CreatedAt TIMESTAMPTZ NOT NULL,
	FinishedAt TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_finished_white ON FinishedGames(WhiteId, FinishedAt DESC);
CREATE INDEX IF NOT EXISTS idx_finished_black ON FinishedGames(BlackId, FinishedAt DESC);
`
